package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps backend failures of a shared store.
var ErrStoreUnavailable = errors.New("security store unavailable")

// incrementScript opens a window on the first hit and returns the count with
// the remaining window in milliseconds.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is a CounterStore and TokenStore shared by every instance that
// points at the same Redis. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore constructs a RedisStore. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "storefront:security"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

// Increment implements CounterStore.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Entry, error) {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	res, err := incrementScript.Run(ctx, s.client, []string{s.counterKey(key)}, ms).Int64Slice()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Entry{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}
	return Entry{
		Count:   int(res[0]),
		ResetAt: s.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Reset implements CounterStore.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.counterKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get implements TokenStore.
func (s *RedisStore) Get(ctx context.Context, key string) (CSRFRecord, bool, error) {
	payload, err := s.client.Get(ctx, s.tokenKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CSRFRecord{}, false, nil
		}
		return CSRFRecord{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var rec CSRFRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return CSRFRecord{}, false, fmt.Errorf("security: decode csrf record: %w", err)
	}
	return rec, true, nil
}

// Set implements TokenStore. The key expires with the record.
func (s *RedisStore) Set(ctx context.Context, key string, rec CSRFRecord) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.tokenKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete implements TokenStore.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.tokenKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) counterKey(key string) string {
	return s.prefix + ":rl:" + key
}

func (s *RedisStore) tokenKey(key string) string {
	return s.prefix + ":csrf:" + key
}

var (
	_ CounterStore = (*RedisStore)(nil)
	_ TokenStore   = (*RedisStore)(nil)
)
