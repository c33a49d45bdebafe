package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/storefront-hq/storefront/internal/shared"
	"github.com/storefront-hq/storefront/internal/token"
)

// Signin outcomes reported to metrics and the audit trail.
const (
	OutcomeSuccess           = "success"
	OutcomeNotFound          = "not_found"
	OutcomeIncorrectPassword = "incorrect_password"
	OutcomeInactive          = "inactive"
	OutcomeError             = "error"
)

// CredentialStore reads and touches accounts of one principal kind.
// Lookups return shared.ErrNotFound on a miss.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SigninEvent describes one signin attempt for the audit trail.
type SigninEvent struct {
	Kind      token.Kind `json:"kind"`
	Email     string     `json:"email"`
	AccountID string     `json:"accountId,omitempty"`
	Outcome   string     `json:"outcome"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"userAgent,omitempty"`
	At        time.Time  `json:"at"`
}

// EventSink receives account events that are processed out of band.
type EventSink interface {
	SigninAttempted(ctx context.Context, ev SigninEvent) error
	PasswordResetRequested(ctx context.Context, email string) error
	VerificationRequested(ctx context.Context, accountID, email string) error
}

// SigninRecorder counts signin attempts.
type SigninRecorder interface {
	SigninAttempt(kind, outcome string)
}

// Credentials is a submitted signin form plus client details for auditing.
type Credentials struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Session is the token pair returned by a successful signin or refresh.
// RefreshToken is empty when refresh support is disabled or on refresh itself.
type Session struct {
	Principal        *Principal
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SigninConfig aggregates the collaborators of a signin service.
type SigninConfig struct {
	Codec   *token.Codec
	Store   CredentialStore
	Events  EventSink
	Metrics SigninRecorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// signer holds the state machine shared by the user and admin variants:
// lookup, status check, password check, last-login touch, token issue.
type signer struct {
	kind    token.Kind
	codec   *token.Codec
	store   CredentialStore
	events  EventSink
	metrics SigninRecorder
	logger  *slog.Logger
	now     func() time.Time
}

func newSigner(kind token.Kind, cfg SigninConfig) signer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return signer{
		kind:    kind,
		codec:   cfg.Codec,
		store:   cfg.Store,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// dummyHash is compared against when no account matches so that unknown
// emails cost one bcrypt comparison like known ones.
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("storefront-unknown-account"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
})

// NormalizeEmail trims and case-folds an address before lookup.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

func (s *signer) signin(ctx context.Context, cred Credentials) (*Session, error) {
	email := NormalizeEmail(cred.Email)
	acct, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(cred.Password))
			s.finish(ctx, cred, email, "", OutcomeNotFound)
			return nil, shared.ErrAccountNotFound
		}
		s.finish(ctx, cred, email, "", OutcomeError)
		return nil, fmt.Errorf("auth: lookup %s account: %w", s.kind, err)
	}
	if !acct.Active() {
		s.finish(ctx, cred, email, acct.ID, OutcomeInactive)
		return nil, shared.ErrAccountInactive
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(cred.Password)); err != nil {
		s.finish(ctx, cred, email, acct.ID, OutcomeIncorrectPassword)
		return nil, shared.ErrIncorrectPassword
	}

	now := s.now()
	if err := s.store.UpdateLastLogin(ctx, acct.ID, now); err != nil {
		s.logger.Warn("update last login", slog.String("kind", string(s.kind)), slog.Any("error", err))
	} else {
		acct.LastLoginAt = &now
	}

	sess, err := s.issue(acct, true)
	if err != nil {
		s.finish(ctx, cred, email, acct.ID, OutcomeError)
		return nil, err
	}
	s.finish(ctx, cred, email, acct.ID, OutcomeSuccess)
	return sess, nil
}

func (s *signer) issue(acct *Account, withRefresh bool) (*Session, error) {
	sub := subjectFor(s.kind, acct)
	access, accessExp, err := s.codec.IssueAccess(sub)
	if err != nil {
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}
	sess := &Session{
		Principal: &Principal{
			ID:            sub.ID,
			Email:         sub.Email,
			Role:          sub.Role,
			Kind:          s.kind,
			EmailVerified: sub.EmailVerified,
			Permissions:   sub.Permissions,
		},
		AccessToken:     access,
		AccessExpiresAt: accessExp,
	}
	if withRefresh {
		refresh, refreshExp, err := s.codec.IssueRefresh(sub)
		if err != nil {
			return nil, fmt.Errorf("auth: issue refresh token: %w", err)
		}
		sess.RefreshToken = refresh
		sess.RefreshExpiresAt = refreshExp
	}
	return sess, nil
}

// verifyRefresh checks raw as a refresh token of the signer's kind and
// returns its claims.
func (s *signer) verifyRefresh(raw string) (*token.Claims, error) {
	if !s.codec.RefreshEnabled(s.kind) {
		return nil, shared.ErrRefreshDisabled
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, shared.ErrNoToken
	}
	if family, ok := token.FamilyOf(raw); ok && family != token.FamilyRefresh {
		return nil, shared.ErrWrongTokenType
	}
	if token.Classify(raw) != s.kind {
		return nil, shared.ErrWrongTokenType
	}
	claims, err := s.codec.Verify(raw, s.kind, token.FamilyRefresh)
	if err != nil {
		s.logger.Debug("refresh token rejected", slog.String("kind", string(s.kind)), slog.Any("error", err))
		return nil, normalize(err)
	}
	return claims, nil
}

// reissue mints a new access token for an account reloaded after refresh.
func (s *signer) reissue(acct *Account, err error) (*Session, error) {
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrTokenInvalid
		}
		return nil, fmt.Errorf("auth: reload %s account: %w", s.kind, err)
	}
	if !acct.Active() {
		return nil, shared.ErrAccountInactive
	}
	return s.issue(acct, false)
}

func (s *signer) finish(ctx context.Context, cred Credentials, email, accountID, outcome string) {
	if s.metrics != nil {
		s.metrics.SigninAttempt(string(s.kind), outcome)
	}
	if outcome != OutcomeSuccess {
		s.logger.Info("signin rejected",
			slog.String("kind", string(s.kind)),
			slog.String("outcome", outcome),
			slog.String("ip", cred.IP))
	}
	if s.events == nil {
		return
	}
	ev := SigninEvent{
		Kind:      s.kind,
		Email:     email,
		AccountID: accountID,
		Outcome:   outcome,
		IP:        cred.IP,
		UserAgent: cred.UserAgent,
		At:        s.now().UTC(),
	}
	if err := s.events.SigninAttempted(ctx, ev); err != nil {
		s.logger.Warn("enqueue signin audit", slog.Any("error", err))
	}
}

// UserSignin authenticates customers against the customers table.
type UserSignin struct {
	signer
}

// NewUserSignin constructs a UserSignin.
func NewUserSignin(cfg SigninConfig) *UserSignin {
	return &UserSignin{signer: newSigner(token.KindUser, cfg)}
}

// Signin checks cred and issues a customer token pair.
func (s *UserSignin) Signin(ctx context.Context, cred Credentials) (*Session, error) {
	return s.signin(ctx, cred)
}

// Refresh exchanges a customer refresh token for a new access token after
// re-reading the account.
func (s *UserSignin) Refresh(ctx context.Context, raw string) (*Session, error) {
	claims, err := s.verifyRefresh(raw)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.FindByID(ctx, claims.ID)
	return s.reissue(acct, err)
}
