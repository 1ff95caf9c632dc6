package memory

import (
	"context"
	"sync"
	"time"
)

// CounterStore is an in-memory account.CounterStore with TTL expiry.
type CounterStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// NewCounterStore creates an empty counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *CounterStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Increment atomically bumps the counter, creating it with the TTL when
// absent or expired, and returns the new count.
func (s *CounterStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &counter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}
