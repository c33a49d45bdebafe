package security

import (
	"context"
	"errors"
	"time"
)

// Policy is a named rate-limit configuration for one class of endpoint.
type Policy struct {
	Name   string
	Window time.Duration
	Max    int
}

// Named policies. Credential endpoints get a much lower ceiling than reads.
var (
	PolicyAPI           = Policy{Name: "api", Window: 15 * time.Minute, Max: 100}
	PolicyAuth          = Policy{Name: "auth", Window: 15 * time.Minute, Max: 5}
	PolicyPasswordReset = Policy{Name: "password_reset", Window: time.Hour, Max: 3}
	PolicyVerification  = Policy{Name: "verification", Window: time.Hour, Max: 5}
	PolicyUpload        = Policy{Name: "upload", Window: time.Hour, Max: 20}
)

// Policies lists the named policies.
func Policies() []Policy {
	return []Policy{PolicyAPI, PolicyAuth, PolicyPasswordReset, PolicyVerification, PolicyUpload}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (d Decision) RetryAfterSeconds() int {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter is a fixed-window-per-key counter over a CounterStore.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// NewLimiter constructs a Limiter. A nil clock uses time.Now.
func NewLimiter(store CounterStore, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, now: now}
}

// Check records one call for key. The first call of a window, and every call
// after the window resets, opens a new window and is allowed; calls are then
// allowed until max is reached within the window.
func (l *Limiter) Check(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	if window <= 0 || max <= 0 {
		return Decision{}, errors.New("security: rate limit window and max must be positive")
	}
	entry, err := l.store.Increment(ctx, key, window)
	if err != nil {
		return Decision{}, err
	}
	now := l.now()
	d := Decision{
		Allowed:   entry.Count <= max,
		Limit:     max,
		Remaining: max - entry.Count,
		ResetAt:   entry.ResetAt,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = entry.ResetAt.Sub(now)
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Second
		}
	}
	return d, nil
}

// CheckPolicy checks client against policy under the key "<policy>:<client>".
func (l *Limiter) CheckPolicy(ctx context.Context, policy Policy, client string) (Decision, error) {
	return l.Check(ctx, policy.Name+":"+client, policy.Window, policy.Max)
}

// ResetPolicy clears the window of client under policy.
func (l *Limiter) ResetPolicy(ctx context.Context, policy Policy, client string) error {
	return l.store.Reset(ctx, policy.Name+":"+client)
}
