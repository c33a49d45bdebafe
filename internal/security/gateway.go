package security

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/storefront-hq/storefront/internal/platform/httpx"
	"github.com/storefront-hq/storefront/internal/shared"
)

// Recorder receives gateway rejections for metrics.
type Recorder interface {
	SecurityRejected(reason string)
}

// GatewayConfig aggregates the dependencies of a Gateway.
type GatewayConfig struct {
	Limiter *Limiter
	CSRF    *CSRFGuard
	// Headers applies the response header policy. Nil skips it.
	Headers *secure.Secure
	// ExemptPaths bypass rate limiting and CSRF entirely.
	ExemptPaths []string
	// CSRFExemptPaths are rate limited but not CSRF checked, e.g. signin.
	CSRFExemptPaths []string
	// KeyFunc derives the client identity. Defaults to httprate.KeyByRealIP.
	KeyFunc  httprate.KeyFunc
	Logger   *slog.Logger
	Recorder Recorder
}

// Gateway decides whether the shape of a request is trustworthy enough to
// reach identity and permission checks. It never authorizes business actions.
type Gateway struct {
	limiter    *Limiter
	csrf       *CSRFGuard
	headers    *secure.Secure
	exempt     map[string]struct{}
	csrfExempt map[string]struct{}
	keyFunc    httprate.KeyFunc
	logger     *slog.Logger
	recorder   Recorder
}

// NewGateway constructs a Gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = httprate.KeyByRealIP
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		limiter:    cfg.Limiter,
		csrf:       cfg.CSRF,
		headers:    cfg.Headers,
		exempt:     pathSet(cfg.ExemptPaths),
		csrfExempt: pathSet(cfg.CSRFExemptPaths),
		keyFunc:    cfg.KeyFunc,
		logger:     cfg.Logger,
		recorder:   cfg.Recorder,
	}
}

// NewHeaderPolicy returns the response header policy shared by all routes.
func NewHeaderPolicy(production bool) *secure.Secure {
	return secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "camera=(), microphone=(), geolocation=()",
		ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            stsSeconds(production),
		STSIncludeSubdomains:  production,
		IsDevelopment:         !production,
	})
}

// Protect returns middleware enforcing, in order: header policy, the safe
// method and exempt path bypass, the rate limit of policy, then CSRF.
func (g *Gateway) Protect(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.headers != nil {
				if err := g.headers.Process(w, r); err != nil {
					g.logger.Warn("secure headers blocked request", slog.Any("error", err))
					return
				}
			}
			if isSafeMethod(r.Method) || g.isExempt(g.exempt, r) {
				next.ServeHTTP(w, r)
				return
			}
			if !g.allow(w, r, policy) {
				return
			}
			if !g.isExempt(g.csrfExempt, r) && !g.verifyCSRF(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gateway) allow(w http.ResponseWriter, r *http.Request, policy Policy) bool {
	if g.limiter == nil {
		return true
	}
	client, err := g.keyFunc(r)
	if err != nil || client == "" {
		client = "unknown"
	}
	decision, err := g.limiter.CheckPolicy(r.Context(), policy, client)
	if err != nil {
		g.logger.Error("rate limit check", slog.String("policy", policy.Name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return false
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	h.Set("X-RateLimit-Reset", decision.ResetAt.UTC().Format(time.RFC3339))
	if decision.Allowed {
		return true
	}
	h.Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
	g.reject(r, httpx.CodeRateLimited, slog.String("policy", policy.Name))
	httpx.RespondError(w, shared.ErrRateLimited)
	return false
}

func (g *Gateway) verifyCSRF(w http.ResponseWriter, r *http.Request) bool {
	if g.csrf == nil {
		return true
	}
	sessionID, ok := ResolveSessionID(r)
	if !ok {
		g.reject(r, httpx.CodeCSRFFailed, slog.String("cause", "no session"))
		httpx.RespondError(w, shared.ErrCSRFFailed)
		return false
	}
	candidate, ok := ExtractCandidate(r)
	if !ok {
		g.reject(r, httpx.CodeCSRFFailed, slog.String("cause", "no token"))
		httpx.RespondError(w, shared.ErrCSRFFailed)
		return false
	}
	valid, err := g.csrf.Verify(r.Context(), sessionID, candidate)
	if err != nil {
		g.logger.Error("csrf verify", slog.Any("error", err))
	}
	if !valid {
		g.reject(r, httpx.CodeCSRFFailed, slog.String("cause", "mismatch"))
		httpx.RespondError(w, shared.ErrCSRFFailed)
		return false
	}
	return true
}

func (g *Gateway) reject(r *http.Request, code string, attrs ...any) {
	if g.recorder != nil {
		g.recorder.SecurityRejected(code)
	}
	args := append([]any{slog.String("path", r.URL.Path), slog.String("code", code)}, attrs...)
	g.logger.Warn("request rejected by gateway", args...)
}

func (g *Gateway) isExempt(set map[string]struct{}, r *http.Request) bool {
	_, ok := set[strings.TrimSuffix(r.URL.Path, "/")]
	return ok
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[strings.TrimSuffix(p, "/")] = struct{}{}
	}
	return set
}

func stsSeconds(production bool) int64 {
	if production {
		return 31536000
	}
	return 0
}
