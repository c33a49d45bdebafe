// Package auth authenticates customers and administrators: credential signin,
// token extraction and validation, and the HTTP endpoints around them.
package auth

import (
	"time"

	"github.com/storefront-hq/storefront/internal/rbac"
	"github.com/storefront-hq/storefront/internal/token"
)

// Roles carried in the role claim.
const (
	RoleCustomer   = "customer"
	RoleStaff      = "staff"
	RoleAdmin      = "admin"
	RoleSuperAdmin = rbac.RoleSuperAdmin
)

// Status is the lifecycle state of an account. Only active accounts sign in.
type Status string

const (
	StatusActive    Status = "active"
	StatusDisabled  Status = "disabled"
	StatusSuspended Status = "suspended"
)

// Account is a credential record from the customers or admins table.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	Name          string
	Role          string
	Status        Status
	EmailVerified bool
	// Permissions is set for admin accounts only.
	Permissions *rbac.Matrix
	LastLoginAt *time.Time
}

// Active reports whether the account may sign in.
func (a *Account) Active() bool {
	return a != nil && a.Status == StatusActive
}

// Principal is the normalized identity of an authenticated request.
type Principal struct {
	ID            string       `json:"id"`
	Email         string       `json:"email"`
	Role          string       `json:"role"`
	Kind          token.Kind   `json:"kind"`
	EmailVerified *bool        `json:"emailVerified,omitempty"`
	Permissions   *rbac.Matrix `json:"permissions,omitempty"`
}

// GetID implements rbac.Principal.
func (p *Principal) GetID() string { return p.ID }

// GetRole implements rbac.Principal.
func (p *Principal) GetRole() string { return p.Role }

// GetPermissions implements rbac.Principal.
func (p *Principal) GetPermissions() *rbac.Matrix { return p.Permissions }

// IsAdmin reports whether the principal was authenticated with an admin token.
func (p *Principal) IsAdmin() bool { return p.Kind == token.KindAdmin }

// EffectivePermissions returns the matrix permission checks run against.
// The super-administrator always reports the all-true matrix.
func (p *Principal) EffectivePermissions() *rbac.Matrix {
	if rbac.IsSuperAdmin(p) {
		m := rbac.SuperAdminMatrix()
		return &m
	}
	return p.Permissions
}

func principalFromClaims(kind token.Kind, claims *token.Claims) *Principal {
	p := &Principal{
		ID:            claims.ID,
		Email:         claims.Email,
		Role:          claims.Role,
		Kind:          kind,
		EmailVerified: claims.EmailVerified,
	}
	if kind == token.KindAdmin {
		p.Permissions = claims.Permissions
	}
	return p
}

func subjectFor(kind token.Kind, a *Account) token.Subject {
	sub := token.Subject{
		Kind:  kind,
		ID:    a.ID,
		Email: a.Email,
		Role:  a.Role,
	}
	if kind == token.KindUser {
		verified := a.EmailVerified
		sub.EmailVerified = &verified
	} else {
		sub.Permissions = a.Permissions
	}
	return sub
}

var _ rbac.Principal = (*Principal)(nil)
