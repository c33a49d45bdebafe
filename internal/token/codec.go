package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/storefront-hq/storefront/internal/shared"
)

const (
	defaultAccessTTL  = 7 * 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultIssuer     = "storefront"
)

// KeySet holds the secrets and lifetimes of one principal kind.
// An empty RefreshSecret disables refresh tokens for that kind.
type KeySet struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Config configures a Codec.
type Config struct {
	User   KeySet
	Admin  KeySet
	Issuer string
	Leeway time.Duration
	Now    func() time.Time
}

// Codec signs and verifies tokens for both principal kinds. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	user   KeySet
	admin  KeySet
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.User.AccessSecret) == 0 {
		return nil, errors.New("token: user access secret required")
	}
	if len(cfg.Admin.AccessSecret) == 0 {
		return nil, errors.New("token: admin access secret required")
	}
	if string(cfg.User.AccessSecret) == string(cfg.Admin.AccessSecret) {
		return nil, errors.New("token: user and admin access secrets must differ")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway")
	}
	for _, ks := range []*KeySet{&cfg.User, &cfg.Admin} {
		if ks.AccessTTL <= 0 {
			ks.AccessTTL = defaultAccessTTL
		}
		if ks.RefreshTTL <= 0 {
			ks.RefreshTTL = defaultRefreshTTL
		}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Codec{
		user:   cfg.User,
		admin:  cfg.Admin,
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}, nil
}

// IssueAccess signs an access token for sub with the secret of sub.Kind.
func (c *Codec) IssueAccess(sub Subject) (string, time.Time, error) {
	keys, err := c.keys(sub.Kind)
	if err != nil {
		return "", time.Time{}, err
	}
	claims := c.claims(sub, FamilyAccess, keys.AccessTTL)
	claims.EmailVerified = sub.EmailVerified
	if sub.Kind == KindAdmin && sub.Permissions != nil {
		matrix := *sub.Permissions
		claims.Permissions = &matrix
	}
	signed, err := sign(claims, keys.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// IssueRefresh signs a refresh token for sub. It returns an empty token and
// no error when refresh support is disabled for the kind.
func (c *Codec) IssueRefresh(sub Subject) (string, time.Time, error) {
	keys, err := c.keys(sub.Kind)
	if err != nil {
		return "", time.Time{}, err
	}
	if len(keys.RefreshSecret) == 0 {
		return "", time.Time{}, nil
	}
	claims := c.claims(sub, FamilyRefresh, keys.RefreshTTL)
	signed, err := sign(claims, keys.RefreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// RefreshEnabled reports whether refresh tokens are configured for kind.
func (c *Codec) RefreshEnabled(kind Kind) bool {
	keys, err := c.keys(kind)
	return err == nil && len(keys.RefreshSecret) > 0
}

// Verify checks signature, issuer and expiry of raw under the secret of kind
// and family, then requires the type claim to match. Returned errors wrap
// shared.ErrTokenInvalid, shared.ErrTokenExpired or shared.ErrWrongTokenType.
func (c *Codec) Verify(raw string, kind Kind, family Family) (*Claims, error) {
	keys, err := c.keys(kind)
	if err != nil {
		return nil, err
	}
	secret := keys.AccessSecret
	if family == FamilyRefresh {
		secret = keys.RefreshSecret
		if len(secret) == 0 {
			return nil, shared.ErrRefreshDisabled
		}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, shared.ErrTokenInvalid
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing id claim", shared.ErrTokenInvalid)
	}
	if want := TypeFor(kind, family); claims.Type != want {
		return nil, fmt.Errorf("%w: got %q, want %q", shared.ErrWrongTokenType, claims.Type, want)
	}
	return claims, nil
}

func (c *Codec) keys(kind Kind) (KeySet, error) {
	switch kind {
	case KindUser:
		return c.user, nil
	case KindAdmin:
		return c.admin, nil
	default:
		return KeySet{}, fmt.Errorf("token: unknown kind %q", kind)
	}
}

func (c *Codec) claims(sub Subject, family Family, ttl time.Duration) *Claims {
	now := c.now()
	return &Claims{
		ID:    sub.ID,
		Email: sub.Email,
		Role:  sub.Role,
		Type:  TypeFor(sub.Kind, family),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.ID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
}

func sign(claims *Claims, secret []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}
