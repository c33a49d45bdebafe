package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSweep(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	_, err := store.Increment(ctx, "short", time.Second)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "long", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "sid:1", CSRFRecord{Token: "t", ExpiresAt: clock.Now().Add(time.Second)}))

	removed := store.Sweep(clock.Now().Add(2 * time.Second))
	assert.Equal(t, 2, removed)

	counters, tokens := store.Size()
	assert.Equal(t, 1, counters)
	assert.Equal(t, 0, tokens)
}

func TestMemoryStoreRunSweeperStopsOnCancel(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunSweeper(ctx, 10*time.Millisecond, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *testClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := newTestClock()
	return NewRedisStore(client, "test", clock.Now), mr, clock
}

func TestRedisStoreIncrement(t *testing.T) {
	store, mr, clock := newRedisStore(t)
	ctx := context.Background()

	e, err := store.Increment(ctx, "auth:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)
	assert.Equal(t, clock.Now().Add(time.Minute), e.ResetAt)

	e, err = store.Increment(ctx, "auth:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Count)
	assert.True(t, mr.Exists("test:rl:auth:10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	e, err = store.Increment(ctx, "auth:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count)

	require.NoError(t, store.Reset(ctx, "auth:10.0.0.1"))
	assert.False(t, mr.Exists("test:rl:auth:10.0.0.1"))
}

func TestRedisStoreLimiterSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	var limiters []*Limiter
	for i := 0; i < 2; i++ {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		limiters = append(limiters, NewLimiter(NewRedisStore(client, "shared", nil), nil))
	}

	for i := 0; i < 5; i++ {
		d, err := limiters[i%2].CheckPolicy(ctx, PolicyAuth, "10.0.0.9")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := limiters[1].CheckPolicy(ctx, PolicyAuth, "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestRedisStoreCSRFRecords(t *testing.T) {
	store, mr, clock := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "sid:1")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := CSRFRecord{Token: "tok", ExpiresAt: clock.Now().Add(time.Hour).UTC()}
	require.NoError(t, store.Set(ctx, "sid:1", rec))
	got, ok, err := store.Get(ctx, "sid:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Token, got.Token)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, time.Hour, mr.TTL("test:csrf:sid:1"))

	require.NoError(t, store.Delete(ctx, "sid:1"))
	_, ok, err = store.Get(ctx, "sid:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr, _ := newRedisStore(t)
	mr.Close()
	_, err := store.Increment(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
