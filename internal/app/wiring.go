package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/storefront-hq/storefront/internal/auth"
	"github.com/storefront-hq/storefront/internal/security"
	"github.com/storefront-hq/storefront/internal/token"
)

// SecurityStore backs both the rate limiter and the CSRF guard.
type SecurityStore interface {
	security.CounterStore
	security.TokenStore
}

// TokenConfig maps the JWT settings onto a token.Config.
func (c *Config) TokenConfig() token.Config {
	return token.Config{
		User: token.KeySet{
			AccessSecret:  []byte(c.JWTAccessSecret),
			RefreshSecret: []byte(c.JWTRefreshSecret),
			AccessTTL:     c.JWTAccessTTL,
			RefreshTTL:    c.JWTRefreshTTL,
		},
		Admin: token.KeySet{
			AccessSecret:  []byte(c.AdminJWTSecret),
			RefreshSecret: []byte(c.AdminJWTRefreshSecret),
			AccessTTL:     c.AdminJWTAccessTTL,
			RefreshTTL:    c.AdminJWTRefreshTTL,
		},
		Issuer: c.JWTIssuer,
	}
}

// SuperAdmin returns the bootstrap credentials. Both fields empty disables
// bootstrap signin.
func (c *Config) SuperAdmin() auth.SuperAdminCredentials {
	return auth.SuperAdminCredentials{Email: c.SuperAdminEmail, Password: c.SuperAdminPassword}
}

// NewSecurityStore selects the store named by SECURITY_STORE. The memory
// store is swept in the background until ctx is cancelled.
func NewSecurityStore(ctx context.Context, cfg *Config, client redis.UniversalClient, logger *slog.Logger) (SecurityStore, error) {
	switch cfg.SecurityStore {
	case StoreRedis:
		if client == nil {
			return nil, errors.New("app: SECURITY_STORE=redis requires a redis client")
		}
		return security.NewRedisStore(client, "storefront:security", nil), nil
	default:
		store := security.NewMemoryStore(nil)
		go store.RunSweeper(ctx, cfg.SecuritySweepInterval, logger)
		if cfg.IsProduction() && logger != nil {
			logger.Warn("in-memory security store in production; limits are per instance")
		}
		return store, nil
	}
}
