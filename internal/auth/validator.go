package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/storefront-hq/storefront/internal/shared"
	"github.com/storefront-hq/storefront/internal/token"
)

// Cookie names carrying access tokens for browser clients.
const (
	UserTokenCookie         = "accessToken"
	UserRefreshCookie       = "refreshToken"
	AdminTokenCookie        = "adminToken"
	AdminRefreshTokenCookie = "adminRefreshToken"
)

// Validator turns a request into a Principal.
type Validator struct {
	codec  *token.Codec
	logger *slog.Logger
}

// NewValidator constructs a Validator.
func NewValidator(codec *token.Codec, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{codec: codec, logger: logger}
}

// ExtractToken returns the bearer token of r, falling back to the access
// cookie of kind. KindAny accepts either cookie, user first.
func ExtractToken(r *http.Request, kind token.Kind) (string, bool) {
	if raw, ok := token.FromAuthorization(r.Header.Get("Authorization")); ok {
		return raw, true
	}
	for _, name := range accessCookies(kind) {
		if c, err := r.Cookie(name); err == nil {
			if v := strings.TrimSpace(c.Value); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// Validate authenticates r. A non-empty required kind rejects tokens
// classified as the other kind before any signature work. Returned errors
// are the bare shared sentinels so that detail never reaches clients.
func (v *Validator) Validate(r *http.Request, required token.Kind) (*Principal, error) {
	raw, ok := ExtractToken(r, required)
	if !ok {
		return nil, shared.ErrNoToken
	}
	kind := token.Classify(raw)
	if required != token.KindAny && kind != required {
		return nil, shared.ErrWrongTokenType
	}
	claims, err := v.codec.Verify(raw, kind, token.FamilyAccess)
	if err != nil {
		v.logger.Debug("token rejected",
			slog.String("kind", string(kind)),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		return nil, normalize(err)
	}
	return principalFromClaims(kind, claims), nil
}

func normalize(err error) error {
	switch {
	case errors.Is(err, shared.ErrTokenExpired):
		return shared.ErrTokenExpired
	case errors.Is(err, shared.ErrWrongTokenType):
		return shared.ErrWrongTokenType
	case errors.Is(err, shared.ErrRefreshDisabled):
		return shared.ErrRefreshDisabled
	default:
		return shared.ErrTokenInvalid
	}
}

func accessCookies(kind token.Kind) []string {
	switch kind {
	case token.KindUser:
		return []string{UserTokenCookie}
	case token.KindAdmin:
		return []string{AdminTokenCookie}
	default:
		return []string{UserTokenCookie, AdminTokenCookie}
	}
}
