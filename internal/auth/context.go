package auth

import (
	"context"

	"github.com/storefront-hq/storefront/internal/rbac"
)

type principalContextKey struct{}

// ContextWithPrincipal stores the authenticated principal in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal placed by the auth middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// ResolvePrincipal adapts PrincipalFromContext for rbac.Middleware.
func ResolvePrincipal(ctx context.Context) (rbac.Principal, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	return p, true
}

var _ rbac.PrincipalResolver = ResolvePrincipal
