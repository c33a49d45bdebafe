package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront-hq/storefront/internal/app"
	"github.com/storefront-hq/storefront/internal/auth"
	"github.com/storefront-hq/storefront/internal/observability"
	"github.com/storefront-hq/storefront/internal/rbac"
	"github.com/storefront-hq/storefront/internal/security"
	"github.com/storefront-hq/storefront/internal/shared"
	"github.com/storefront-hq/storefront/internal/token"
	"github.com/storefront-hq/storefront/jobs"
	_ "github.com/storefront-hq/storefront/testing"
)

const staffPassword = "correct horse battery"

type accountStore struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account
}

func (s *accountStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *accountStore) FindByID(_ context.Context, id string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, shared.ErrNotFound
}

func (s *accountStore) UpdateLastLogin(context.Context, string, time.Time) error { return nil }

type queue struct {
	mu    sync.Mutex
	types []string
}

func (q *queue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.types = append(q.types, task.Type())
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (q *queue) Close() error { return nil }

func (q *queue) Types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.types...)
}

type stack struct {
	router http.Handler
	queue  *queue
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := &app.Config{
		AppEnv:           "test",
		JWTAccessSecret:  "e2e-user-access-secret-0123456789",
		JWTRefreshSecret: "e2e-user-refresh-secret-012345678",
		AdminJWTSecret:   "e2e-admin-access-secret-01234567",
		SecurityStore:    app.StoreMemory,
		GlobalRateLimit:  1000,
		CSRFMaxAge:       time.Hour,
	}
	codec, err := token.NewCodec(cfg.TokenConfig())
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(staffPassword), bcrypt.MinCost)
	require.NoError(t, err)
	admins := &accountStore{accounts: map[string]*auth.Account{
		"a-1": {
			ID: "a-1", Email: "ops@storefront.test", PasswordHash: string(hash),
			Role: auth.RoleStaff, Status: auth.StatusActive,
			Permissions: &rbac.Matrix{Orders: rbac.Actions{View: true, Create: true}},
		},
	}}

	q := &queue{}
	enqueuer := jobs.NewEnqueuer(q, nil)
	metrics := observability.NewMetrics()
	store := security.NewMemoryStore(nil)
	csrf := security.NewCSRFGuard(store, security.CSRFConfig{MaxAge: cfg.CSRFMaxAge})
	gateway := security.NewGateway(security.GatewayConfig{
		Limiter:         security.NewLimiter(store, nil),
		CSRF:            csrf,
		Headers:         security.NewHeaderPolicy(false),
		CSRFExemptPaths: auth.CSRFExemptPaths("/api"),
		Recorder:        metrics,
	})
	signinCfg := auth.SigninConfig{Codec: codec, Events: enqueuer, Metrics: metrics}
	userCfg := signinCfg
	userCfg.Store = &accountStore{accounts: map[string]*auth.Account{}}
	adminCfg := signinCfg
	adminCfg.Store = admins

	authMiddleware := auth.NewMiddleware(auth.NewValidator(codec, nil))
	handler := auth.NewHandler(auth.HandlerConfig{
		Users:   auth.NewUserSignin(userCfg),
		Admins:  auth.NewAdminSignin(adminCfg, cfg.SuperAdmin()),
		Auth:    authMiddleware,
		Gateway: gateway,
		CSRF:    csrf,
		Events:  enqueuer,
	})

	router := app.NewRouter(app.RouterParams{
		Config:         cfg,
		AuthHandler:    handler,
		AuthMiddleware: authMiddleware,
		Gateway:        gateway,
		RBACMiddleware: rbac.Middleware{Resolve: auth.ResolvePrincipal},
		AdminRoutes: func(r chi.Router) {
			r.Post("/orders/{id}/notes", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) })
		},
		Metrics: metrics,
	})
	return &stack{router: router, queue: q}
}

func (s *stack) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminSigninThroughCSRFProtectedWrite(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, "/api/admin/auth/signin", `{"email":"OPS@storefront.test","password":"`+staffPassword+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	require.NotEmpty(t, sess.AccessToken)
	bearer := map[string]string{"Authorization": "Bearer " + sess.AccessToken}

	rec = s.do(t, http.MethodGet, "/api/admin/auth/me", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"a-1"`)

	rec = s.do(t, http.MethodPost, "/api/admin/orders/o-1/notes", `{"note":"x"}`, bearer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/csrf-token", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var csrf struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &csrf))

	headers := map[string]string{"Authorization": bearer["Authorization"], security.CSRFHeader: csrf.CSRFToken}
	rec = s.do(t, http.MethodPost, "/api/admin/orders/o-1/notes", `{"note":"x"}`, headers)
	assert.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, []string{jobs.TaskSigninAudit}, s.queue.Types())
}

func TestRepeatedBadSigninsAreThrottled(t *testing.T) {
	s := newStack(t)
	body := `{"email":"ops@storefront.test","password":"wrong"}`

	for i := 0; i < security.PolicyAuth.Max; i++ {
		rec := s.do(t, http.MethodPost, "/api/admin/auth/signin", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/admin/auth/signin", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Len(t, s.queue.Types(), security.PolicyAuth.Max)
}

func TestForgotPasswordQueuesResetWithoutCSRF(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, "/api/auth/password/forgot", `{"email":"jane@example.com"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{jobs.TaskPasswordReset}, s.queue.Types())
}
