// Package security protects state-changing requests: per-client rate limits,
// per-session CSRF tokens and the gateway that composes them with the
// response header policy.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is the state of one rate-limit window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// CounterStore holds rate-limit windows. Increment must open a fresh window
// when none exists or the previous one has passed, and otherwise increment,
// atomically with respect to concurrent calls for the same key.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (Entry, error)
	Reset(ctx context.Context, key string) error
}

// CSRFRecord is the live anti-forgery token of one session.
type CSRFRecord struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenStore holds at most one CSRF record per session key.
type TokenStore interface {
	Get(ctx context.Context, key string) (CSRFRecord, bool, error)
	Set(ctx context.Context, key string, rec CSRFRecord) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process CounterStore and TokenStore for single
// instance deployments. Each map has its own mutex.
type MemoryStore struct {
	now func() time.Time

	countersMu sync.Mutex
	counters   map[string]*Entry

	tokensMu sync.Mutex
	tokens   map[string]CSRFRecord
}

// NewMemoryStore constructs a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		counters: make(map[string]*Entry),
		tokens:   make(map[string]CSRFRecord),
	}
}

// Increment implements CounterStore.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Entry, error) {
	now := s.now()
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	e, ok := s.counters[key]
	if !ok || now.After(e.ResetAt) {
		e = &Entry{ResetAt: now.Add(window)}
		s.counters[key] = e
	}
	e.Count++
	return *e, nil
}

// Reset implements CounterStore.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.countersMu.Lock()
	delete(s.counters, key)
	s.countersMu.Unlock()
	return nil
}

// Get implements TokenStore.
func (s *MemoryStore) Get(_ context.Context, key string) (CSRFRecord, bool, error) {
	s.tokensMu.Lock()
	rec, ok := s.tokens[key]
	s.tokensMu.Unlock()
	return rec, ok, nil
}

// Set implements TokenStore.
func (s *MemoryStore) Set(_ context.Context, key string, rec CSRFRecord) error {
	s.tokensMu.Lock()
	s.tokens[key] = rec
	s.tokensMu.Unlock()
	return nil
}

// Delete implements TokenStore.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.tokensMu.Lock()
	delete(s.tokens, key)
	s.tokensMu.Unlock()
	return nil
}

// Sweep drops expired windows and CSRF records and reports how many went.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	s.countersMu.Lock()
	for key, e := range s.counters {
		if now.After(e.ResetAt) {
			delete(s.counters, key)
			removed++
		}
	}
	s.countersMu.Unlock()

	s.tokensMu.Lock()
	for key, rec := range s.tokens {
		if now.After(rec.ExpiresAt) {
			delete(s.tokens, key)
			removed++
		}
	}
	s.tokensMu.Unlock()
	return removed
}

// RunSweeper sweeps every interval until ctx is cancelled. Run it in its own goroutine.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(s.now()); removed > 0 && logger != nil {
				logger.Debug("security store sweep", slog.Int("removed", removed))
			}
		}
	}
}

// Size reports the number of live counters and CSRF records.
func (s *MemoryStore) Size() (counters, tokens int) {
	s.countersMu.Lock()
	counters = len(s.counters)
	s.countersMu.Unlock()
	s.tokensMu.Lock()
	tokens = len(s.tokens)
	s.tokensMu.Unlock()
	return counters, tokens
}

var (
	_ CounterStore = (*MemoryStore)(nil)
	_ TokenStore   = (*MemoryStore)(nil)
)
