package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupCounterStore(t *testing.T) *CounterStore {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // separate DB for tests
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(ctx)
		_ = client.Close()
	})

	return NewCounterStore(client, nil)
}

func TestIncrementReturnsSequentialCounts(t *testing.T) {
	store := setupCounterStore(t)
	ctx := context.Background()

	key := fmt.Sprintf("test:counter:%d", time.Now().UnixNano())
	for want := int64(1); want <= 5; want++ {
		count, err := store.Increment(ctx, key, time.Minute)
		require.NoError(t, err)
		require.Equal(t, want, count)
	}
}

func TestIncrementAppliesTTLOnFirstIncrementOnly(t *testing.T) {
	store := setupCounterStore(t)
	ctx := context.Background()

	key := fmt.Sprintf("test:ttl:%d", time.Now().UnixNano())
	_, err := store.Increment(ctx, key, 200*time.Millisecond)
	require.NoError(t, err)

	// Later increments must not refresh the window TTL.
	time.Sleep(100 * time.Millisecond)
	_, err = store.Increment(ctx, key, 200*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	count, err := store.Increment(ctx, key, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "key should have expired with its original window")
}

// Concurrent increments must each observe a distinct count; this is the
// property a read-then-write implementation would break.
func TestIncrementConcurrent(t *testing.T) {
	store := setupCounterStore(t)
	ctx := context.Background()

	key := fmt.Sprintf("test:concurrent:%d", time.Now().UnixNano())

	const workers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := store.Increment(ctx, key, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			counts[count] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, counts, workers)
	for want := int64(1); want <= workers; want++ {
		require.True(t, counts[want], "missing count %d", want)
	}
}

func TestIncrementIndependentKeys(t *testing.T) {
	store := setupCounterStore(t)
	ctx := context.Background()

	base := time.Now().UnixNano()
	a := fmt.Sprintf("test:a:%d", base)
	b := fmt.Sprintf("test:b:%d", base)

	count, err := store.Increment(ctx, a, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	count, err = store.Increment(ctx, b, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
