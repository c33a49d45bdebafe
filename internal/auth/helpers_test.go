package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront-hq/storefront/internal/auth"
	"github.com/storefront-hq/storefront/internal/shared"
	"github.com/storefront-hq/storefront/internal/token"
	_ "github.com/storefront-hq/storefront/testing"
)

const (
	superEmail    = "root@storefront.test"
	superPassword = "bootstrap-password-1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStore struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account
	touched  map[string]time.Time
	touchErr error
	byID     int
}

func newMemStore(accounts ...*auth.Account) *memStore {
	s := &memStore{accounts: make(map[string]*auth.Account), touched: make(map[string]time.Time)}
	for _, a := range accounts {
		s.put(a)
	}
	return s
}

func (s *memStore) put(a *auth.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *memStore) FindByID(_ context.Context, id string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID++
	a, ok := s.accounts[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	s.touched[id] = at
	return nil
}

type eventLog struct {
	mu           sync.Mutex
	signins      []auth.SigninEvent
	resets       []string
	verification []string
}

func (e *eventLog) SigninAttempted(_ context.Context, ev auth.SigninEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signins = append(e.signins, ev)
	return nil
}

func (e *eventLog) PasswordResetRequested(_ context.Context, email string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets = append(e.resets, email)
	return nil
}

func (e *eventLog) VerificationRequested(_ context.Context, accountID, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verification = append(e.verification, accountID)
	return nil
}

func (e *eventLog) outcomes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.signins))
	for _, ev := range e.signins {
		out = append(out, ev.Outcome)
	}
	return out
}

type attempts struct {
	mu     sync.Mutex
	counts map[string]int
}

func (a *attempts) SigninAttempt(kind, outcome string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = make(map[string]int)
	}
	a.counts[kind+"/"+outcome]++
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newCodec(t *testing.T, c *clock, withRefresh bool) *token.Codec {
	t.Helper()
	cfg := token.Config{
		User:  token.KeySet{AccessSecret: []byte("user-access-secret-for-tests-000001")},
		Admin: token.KeySet{AccessSecret: []byte("admin-access-secret-for-tests-00001")},
		Now:   c.Now,
	}
	if withRefresh {
		cfg.User.RefreshSecret = []byte("user-refresh-secret-for-tests-00001")
		cfg.Admin.RefreshSecret = []byte("admin-refresh-secret-for-tests-0001")
	}
	codec, err := token.NewCodec(cfg)
	require.NoError(t, err)
	return codec
}

var errStoreDown = errors.New("store down")
