package auth

import (
	"net/http"

	"github.com/storefront-hq/storefront/internal/platform/httpx"
	"github.com/storefront-hq/storefront/internal/token"
)

// Middleware authenticates requests and stores the principal in the context.
type Middleware struct {
	validator *Validator
}

// NewMiddleware constructs Middleware.
func NewMiddleware(v *Validator) *Middleware {
	return &Middleware{validator: v}
}

// RequireUser admits customer tokens only.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return m.require(token.KindUser, next)
}

// RequireAdmin admits admin tokens only.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.require(token.KindAdmin, next)
}

// RequireAny admits either kind.
func (m *Middleware) RequireAny(next http.Handler) http.Handler {
	return m.require(token.KindAny, next)
}

// Optional attaches a principal when a valid token is present and otherwise
// continues anonymously.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := m.validator.Validate(r, token.KindAny); err == nil {
			r = r.WithContext(ContextWithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) require(kind token.Kind, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.validator.Validate(r, kind)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}
