package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/config"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/storage/memory"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *memory.CounterStore, *time.Time) {
	t.Helper()

	counters := memory.NewCounterStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	counters.SetClock(clock)

	rl := NewRateLimiter(counters, config.DefaultPricing(), nil)
	rl.SetClock(clock)
	return rl, counters, &now
}

func TestCheckFreeTierPerSecond(t *testing.T) {
	rl, _, now := newTestLimiter(t)
	ctx := context.Background()

	decision, err := rl.Check(ctx, "key-1", account.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected first call to be allowed")
	}
	if decision.RemainingDaily != 99 {
		t.Errorf("expected remaining daily 99, got %d", decision.RemainingDaily)
	}

	// Second call in the same second: free tier allows 1 req/sec.
	decision, err = rl.Check(ctx, "key-1", account.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected second call in the same second to be denied")
	}
	if decision.ErrorCode != api.ErrCodePerSecondRateLimited {
		t.Errorf("expected PER_SECOND_RATE_LIMITED, got %s", decision.ErrorCode)
	}

	// Next second the window resets.
	*now = now.Add(time.Second)
	decision, err = rl.Check(ctx, "key-1", account.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected call in the next second to be allowed")
	}
}

func TestCheckPaidTierPerSecond(t *testing.T) {
	rl, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := rl.Check(ctx, "key-1", account.TierPaid)
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("expected call %d to be allowed", i+1)
		}
		if decision.RemainingDaily != UnlimitedDaily {
			t.Errorf("expected unlimited daily for paid tier, got %d", decision.RemainingDaily)
		}
	}

	decision, err := rl.Check(ctx, "key-1", account.TierPaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected 11th call in one second to be denied")
	}
	if decision.ErrorCode != api.ErrCodePerSecondRateLimited {
		t.Errorf("expected PER_SECOND_RATE_LIMITED, got %s", decision.ErrorCode)
	}
}

// A free key gets 100 calls per day; call 101 is denied even when spread
// across distinct seconds.
func TestCheckFreeTierDailyLimit(t *testing.T) {
	rl, _, now := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		decision, err := rl.Check(ctx, "key-1", account.TierFree)
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", i+1, err)
		}
		if !decision.Allowed {
			t.Fatalf("expected call %d to be allowed", i+1)
		}
		if want := int64(100 - i - 1); decision.RemainingDaily != want {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, want, decision.RemainingDaily)
		}
		*now = now.Add(time.Second)
	}

	decision, err := rl.Check(ctx, "key-1", account.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected call 101 to be denied")
	}
	if decision.ErrorCode != api.ErrCodeDailyRateLimited {
		t.Errorf("expected DAILY_RATE_LIMITED, got %s", decision.ErrorCode)
	}
}

func TestCheckDailyWindowRollsOver(t *testing.T) {
	rl, _, now := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		_, _ = rl.Check(ctx, "key-1", account.TierFree)
		*now = now.Add(time.Second)
	}

	// Next UTC date: fresh daily window.
	*now = now.Add(24 * time.Hour)
	decision, err := rl.Check(ctx, "key-1", account.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected call on the next day to be allowed")
	}
	if decision.RemainingDaily != 99 {
		t.Errorf("expected remaining 99 on fresh window, got %d", decision.RemainingDaily)
	}
}

func TestCheckKeysAreIsolated(t *testing.T) {
	rl, _, _ := newTestLimiter(t)
	ctx := context.Background()

	if decision, _ := rl.Check(ctx, "key-1", account.TierFree); !decision.Allowed {
		t.Fatal("expected key-1 to be allowed")
	}
	if decision, _ := rl.Check(ctx, "key-1", account.TierFree); decision.Allowed {
		t.Fatal("expected key-1 to be rate limited")
	}
	if decision, _ := rl.Check(ctx, "key-2", account.TierFree); !decision.Allowed {
		t.Fatal("expected key-2 to be unaffected by key-1's limit")
	}
}

type failingCounterStore struct{}

func (failingCounterStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("counter store down")
}

// An unreachable counter store denies the request rather than waving it
// through.
func TestCheckFailsClosed(t *testing.T) {
	rl := NewRateLimiter(failingCounterStore{}, config.DefaultPricing(), nil)

	decision, err := rl.Check(context.Background(), "key-1", account.TierFree)
	if err == nil {
		t.Fatal("expected an error from the failing store")
	}
	if decision.Allowed {
		t.Fatal("expected the check to fail closed")
	}
	if decision.ErrorCode != api.ErrCodeStoreUnavailable {
		t.Errorf("expected STORE_UNAVAILABLE, got %s", decision.ErrorCode)
	}
}
