package token

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/storefront-hq/storefront/internal/rbac"
)

// Kind is the principal kind a token was issued for. It selects the secret.
type Kind string

const (
	// KindAny accepts either kind during validation.
	KindAny Kind = ""
	// KindUser marks customer tokens.
	KindUser Kind = "user"
	// KindAdmin marks back-office tokens.
	KindAdmin Kind = "admin"
)

// Family separates short-lived access tokens from refresh tokens.
type Family string

const (
	FamilyAccess  Family = "access"
	FamilyRefresh Family = "refresh"
)

// Type is the payload-level discriminator carried in the "type" claim.
type Type string

const (
	TypeAccess       Type = "access"
	TypeRefresh      Type = "refresh"
	TypeAdmin        Type = "admin"
	TypeAdminRefresh Type = "admin_refresh"
)

// TypeFor returns the claim value for a kind and family.
func TypeFor(kind Kind, family Family) Type {
	if kind == KindAdmin {
		if family == FamilyRefresh {
			return TypeAdminRefresh
		}
		return TypeAdmin
	}
	if family == FamilyRefresh {
		return TypeRefresh
	}
	return TypeAccess
}

// Claims is the signed payload of every token.
type Claims struct {
	ID            string       `json:"id"`
	Email         string       `json:"email"`
	Role          string       `json:"role"`
	Type          Type         `json:"type"`
	EmailVerified *bool        `json:"emailVerified,omitempty"`
	Permissions   *rbac.Matrix `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Subject carries the identity being minted into a token.
type Subject struct {
	Kind          Kind
	ID            string
	Email         string
	Role          string
	EmailVerified *bool
	// Permissions is embedded in admin access tokens only.
	Permissions *rbac.Matrix
}
