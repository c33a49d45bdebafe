package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storefront-hq/storefront/cmd/storefront/cli"
	"github.com/storefront-hq/storefront/internal/app"
	"github.com/storefront-hq/storefront/internal/audit"
	audithttp "github.com/storefront-hq/storefront/internal/audit/http"
	"github.com/storefront-hq/storefront/internal/auth"
	jobmetrics "github.com/storefront-hq/storefront/internal/jobs"
	"github.com/storefront-hq/storefront/internal/observability"
	"github.com/storefront-hq/storefront/internal/platform/cache"
	"github.com/storefront-hq/storefront/internal/platform/db"
	"github.com/storefront-hq/storefront/internal/rbac"
	"github.com/storefront-hq/storefront/internal/security"
	"github.com/storefront-hq/storefront/internal/token"
	"github.com/storefront-hq/storefront/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 2 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(redisOpts)
		defer jobsCLI.Close()
		if err := jobsCLI.Run(ctx, os.Args[2:], os.Stdout); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	codec, err := token.NewCodec(cfg.TokenConfig())
	if err != nil {
		logger.Error("init token codec", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := app.NewSecurityStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("init security store", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	enqueuer := jobs.NewRedisEnqueuer(redisOpts, jobmetrics.NewMetrics(metrics.Registerer()))
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("enqueuer close", slog.Any("error", err))
		}
	}()

	csrfGuard := security.NewCSRFGuard(store, security.CSRFConfig{MaxAge: cfg.CSRFMaxAge})
	gateway := security.NewGateway(security.GatewayConfig{
		Limiter:         security.NewLimiter(store, nil),
		CSRF:            csrfGuard,
		Headers:         security.NewHeaderPolicy(cfg.IsProduction()),
		CSRFExemptPaths: auth.CSRFExemptPaths("/api"),
		Logger:          logger,
		Recorder:        metrics,
	})

	signinCfg := func(store auth.CredentialStore) auth.SigninConfig {
		return auth.SigninConfig{
			Codec:   codec,
			Store:   store,
			Events:  enqueuer,
			Metrics: metrics,
			Logger:  logger,
		}
	}
	users := auth.NewUserSignin(signinCfg(auth.NewCustomerStore(dbpool)))
	admins := auth.NewAdminSignin(signinCfg(auth.NewAdminStore(dbpool)), cfg.SuperAdmin())
	authMiddleware := auth.NewMiddleware(auth.NewValidator(codec, logger))

	authHandler := auth.NewHandler(auth.HandlerConfig{
		Users:         users,
		Admins:        admins,
		Auth:          authMiddleware,
		Gateway:       gateway,
		CSRF:          csrfGuard,
		Events:        enqueuer,
		Logger:        logger,
		SecureCookies: cfg.IsProduction(),
	})

	rbacMiddleware := rbac.Middleware{
		Resolve: auth.ResolvePrincipal,
		Routes:  rbac.RouteGuard{DenyUnmapped: cfg.AdminUnmappedRoutesDeny},
		Logger:  logger,
	}
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbac.NewService(dbpool), rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        authHandler,
		AuthMiddleware:     authMiddleware,
		Gateway:            gateway,
		RBACMiddleware:     rbacMiddleware,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobs.NewHandler(inspector, logger),
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		Readiness: map[string]app.ReadinessCheck{
			"postgres": dbpool.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("security_store", cfg.SecurityStore),
			slog.Bool("super_admin", cfg.SuperAdmin().Enabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
