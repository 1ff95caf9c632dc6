// Package redis implements the rate-limit counter store on Redis.
//
// Purpose:
//   The rate limiter needs increment-with-expiry as one atomic primitive. A
//   GET-then-SET sequence leaves a race window where two concurrent requests
//   both read the pre-increment count and both pass a full limit. The store
//   runs a single Lua script so the increment, the TTL, and the returned
//   count happen in one round trip under Redis's single-threaded execution.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// incrementScript bumps the counter and applies the window TTL on first
// increment. The TTL is never refreshed afterwards; the key must die with
// its window regardless of traffic.
var incrementScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// CounterStore is a Redis-backed account.CounterStore.
type CounterStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCounterStore wraps a Redis client.
func NewCounterStore(client *redis.Client, logger *zap.Logger) *CounterStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CounterStore{client: client, logger: logger}
}

// Increment atomically increments the window counter and returns the new
// count. Errors propagate to the caller, which treats them as a denial.
func (s *CounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrementScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis: increment counter %q: %w", key, err)
	}
	return count, nil
}
