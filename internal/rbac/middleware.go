package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/storefront-hq/storefront/internal/platform/httpx"
	"github.com/storefront-hq/storefront/internal/shared"
)

// PrincipalResolver reads the authenticated principal from a request context.
type PrincipalResolver func(ctx context.Context) (Principal, bool)

// Middleware wires permission checks for HTTP handlers. It runs after token
// validation has placed a principal in the context.
type Middleware struct {
	Resolve PrincipalResolver
	Routes  RouteGuard
	Logger  *slog.Logger
}

// Require ensures the principal holds action on section.
func (m Middleware) Require(section Section, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := m.principal(r)
			if !ok {
				httpx.RespondError(w, shared.ErrNoToken)
				return
			}
			if !HasPermission(principal, section, action) {
				m.deny(r, principal, string(section)+"."+string(action))
				httpx.RespondError(w, shared.ErrInsufficientPermission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMethod derives the action from the HTTP method: GET and HEAD view,
// POST creates, PUT and PATCH update, DELETE deletes. OPTIONS passes; any
// other method is denied.
func (m Middleware) RequireMethod(section Section) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action, ok := ActionForMethod(r.Method)
			if !ok {
				if r.Method == http.MethodOptions {
					next.ServeHTTP(w, r)
					return
				}
				if principal, ok := m.principal(r); ok {
					m.deny(r, principal, string(section)+"."+r.Method)
				}
				httpx.RespondError(w, shared.ErrInsufficientPermission)
				return
			}
			m.Require(section, action)(next).ServeHTTP(w, r)
		})
	}
}

// RequireRoute checks the request method and path against the route table.
func (m Middleware) RequireRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := m.principal(r)
		if !ok {
			httpx.RespondError(w, shared.ErrNoToken)
			return
		}
		if !m.Routes.CanAccessMethod(principal, r.Method, r.URL.Path) {
			m.deny(r, principal, r.Method+" "+r.URL.Path)
			httpx.RespondError(w, shared.ErrInsufficientPermission)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActionForMethod maps an HTTP method onto a matrix action.
func ActionForMethod(method string) (Action, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return ActionView, true
	case http.MethodPost:
		return ActionCreate, true
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate, true
	case http.MethodDelete:
		return ActionDelete, true
	default:
		return "", false
	}
}

func (m Middleware) principal(r *http.Request) (Principal, bool) {
	if m.Resolve == nil {
		return nil, false
	}
	return m.Resolve(r.Context())
}

func (m Middleware) deny(r *http.Request, p Principal, what string) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("permission denied",
		slog.String("principal", p.GetID()),
		slog.String("required", what),
		slog.String("path", r.URL.Path))
}
