package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/sync/singleflight"

	"github.com/storefront-hq/storefront/internal/rbac"
	"github.com/storefront-hq/storefront/internal/shared"
	"github.com/storefront-hq/storefront/internal/token"
)

// SuperAdminCredentials are the environment-provided bootstrap credentials.
type SuperAdminCredentials struct {
	Email    string
	Password string
}

// Enabled reports whether both values are configured.
func (c SuperAdminCredentials) Enabled() bool {
	return c.Email != "" && c.Password != ""
}

// AdminSignin authenticates administrators against the admins table, plus
// the single bootstrap super-administrator.
type AdminSignin struct {
	signer
	super SuperAdminCredentials
	group singleflight.Group
}

// NewAdminSignin constructs an AdminSignin.
func NewAdminSignin(cfg SigninConfig, super SuperAdminCredentials) *AdminSignin {
	super.Email = NormalizeEmail(super.Email)
	return &AdminSignin{signer: newSigner(token.KindAdmin, cfg), super: super}
}

// Signin routes the bootstrap email to BootstrapSignin and everything else
// through the credential store.
func (s *AdminSignin) Signin(ctx context.Context, cred Credentials) (*Session, error) {
	if s.isBootstrapEmail(cred.Email) {
		return s.BootstrapSignin(ctx, cred)
	}
	return s.signin(ctx, cred)
}

// BootstrapSignin compares cred against the configured super-administrator
// in plaintext. This is the only plaintext comparison in the system.
func (s *AdminSignin) BootstrapSignin(ctx context.Context, cred Credentials) (*Session, error) {
	email := NormalizeEmail(cred.Email)
	if !s.isBootstrapEmail(email) {
		s.finish(ctx, cred, email, "", OutcomeNotFound)
		return nil, shared.ErrAccountNotFound
	}
	got := sha256.Sum256([]byte(cred.Password))
	want := sha256.Sum256([]byte(s.super.Password))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		s.finish(ctx, cred, email, rbac.SuperAdminID, OutcomeIncorrectPassword)
		return nil, shared.ErrIncorrectPassword
	}
	sess, err := s.issue(s.superAccount(), true)
	if err != nil {
		s.finish(ctx, cred, email, rbac.SuperAdminID, OutcomeError)
		return nil, err
	}
	s.finish(ctx, cred, email, rbac.SuperAdminID, OutcomeSuccess)
	return sess, nil
}

// Refresh exchanges an admin refresh token for a new access token carrying a
// freshly loaded permission matrix. Concurrent refreshes of one account share
// a single store lookup.
func (s *AdminSignin) Refresh(ctx context.Context, raw string) (*Session, error) {
	claims, err := s.verifyRefresh(raw)
	if err != nil {
		return nil, err
	}
	if claims.ID == rbac.SuperAdminID {
		if !s.super.Enabled() || claims.Role != rbac.RoleSuperAdmin {
			return nil, shared.ErrTokenInvalid
		}
		return s.issue(s.superAccount(), false)
	}
	// The lookup is shared, so one caller's cancellation must not fail the others.
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(claims.ID, func() (any, error) {
		return s.store.FindByID(lookupCtx, claims.ID)
	})
	acct, _ := v.(*Account)
	return s.reissue(acct, err)
}

func (s *AdminSignin) isBootstrapEmail(email string) bool {
	return s.super.Enabled() && NormalizeEmail(email) == s.super.Email
}

func (s *AdminSignin) superAccount() *Account {
	matrix := rbac.SuperAdminMatrix()
	return &Account{
		ID:          rbac.SuperAdminID,
		Email:       s.super.Email,
		Role:        rbac.RoleSuperAdmin,
		Status:      StatusActive,
		Permissions: &matrix,
	}
}
