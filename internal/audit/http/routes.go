package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/storefront-hq/storefront/internal/auth"
	"github.com/storefront-hq/storefront/internal/platform/httpx"
	"github.com/storefront-hq/storefront/internal/rbac"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the timeline and its CSV export. Exports need the
// stats export grant on top of the view grant enforced by the route table.
func (h *Handler) MountRoutes(r chi.Router, perms rbac.Middleware) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.ProblemWithCode(w, http.StatusTooManyRequests, "Too Many Requests", "export limit reached", httpx.CodeRateLimited)
		}),
	)
	r.Get("/audit", h.handleTimeline)
	r.Group(func(gr chi.Router) {
		gr.Use(perms.Require(rbac.SectionStats, rbac.ActionExport), limiter)
		gr.Get("/audit/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.ID != "" {
		return "admin:" + p.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
