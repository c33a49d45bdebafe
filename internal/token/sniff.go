package token

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Classify guesses the kind of raw from its unverified payload. It is a
// routing hint only: the result picks which secret Verify uses, and a wrong
// guess fails there. Anything undecodable is reported as KindUser.
func Classify(raw string) Kind {
	claims, ok := unverified(raw)
	if !ok {
		return KindUser
	}
	switch claims.Type {
	case TypeAdmin, TypeAdminRefresh:
		return KindAdmin
	default:
		return KindUser
	}
}

// UnverifiedSubject returns the id claim of raw without checking the
// signature. Use it for correlation only, never for authorization.
func UnverifiedSubject(raw string) (string, bool) {
	claims, ok := unverified(raw)
	if !ok || claims.ID == "" {
		return "", false
	}
	return claims.ID, true
}

func unverified(raw string) (*Claims, bool) {
	if raw == "" {
		return nil, false
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// FamilyOf reports the family named by the unverified type claim of raw.
// Like Classify it only lets callers reject an obvious mismatch early.
func FamilyOf(raw string) (Family, bool) {
	claims, ok := unverified(raw)
	if !ok {
		return "", false
	}
	switch claims.Type {
	case TypeAccess, TypeAdmin:
		return FamilyAccess, true
	case TypeRefresh, TypeAdminRefresh:
		return FamilyRefresh, true
	default:
		return "", false
	}
}

// FromAuthorization returns the token of a "Bearer <token>" header value. The
// scheme is matched case-insensitively and surrounding whitespace is ignored.
func FromAuthorization(header string) (string, bool) {
	scheme, raw, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
