package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/storefront-hq/storefront/internal/audit/http"
	"github.com/storefront-hq/storefront/internal/auth"
	"github.com/storefront-hq/storefront/internal/observability"
	"github.com/storefront-hq/storefront/internal/platform/httpx"
	"github.com/storefront-hq/storefront/internal/rbac"
	"github.com/storefront-hq/storefront/internal/security"
	"github.com/storefront-hq/storefront/jobs"
)

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	AuthMiddleware     *auth.Middleware
	Gateway            *security.Gateway
	RBACMiddleware     rbac.Middleware
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	AuditHandler       *audithttp.Handler
	// AdminRoutes mounts back-office handlers below /api/admin. They run
	// behind admin authentication and the route permission table.
	AdminRoutes func(r chi.Router)
	Readiness   map[string]ReadinessCheck
	Metrics     *observability.Metrics
}

// NewRouter constructs the chi.Router with storefront defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(params.Logger, params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.AuthMiddleware == nil {
			return
		}
		r.Route("/admin", func(r chi.Router) {
			if params.Gateway != nil {
				r.Use(params.Gateway.Protect(security.PolicyAPI))
			}
			r.Use(params.AuthMiddleware.RequireAdmin, params.RBACMiddleware.RequireRoute)
			if params.PermissionsHandler != nil {
				params.PermissionsHandler.MountRoutes(r)
			}
			r.Route("/stats", func(r chi.Router) {
				if params.JobHandler != nil {
					r.Route("/jobs", params.JobHandler.MountRoutes)
				}
				if params.AuditHandler != nil {
					params.AuditHandler.MountRoutes(r, params.RBACMiddleware)
				}
			})
			if params.AdminRoutes != nil {
				params.AdminRoutes(r)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.ProblemWithCode(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path, "NOT_FOUND")
	})

	return r
}

func readinessHandler(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httpx.JSON(w, status, map[string]any{"checks": results})
	}
}
