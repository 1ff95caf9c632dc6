// Package limiter enforces per-second and per-day call quotas per API key.
//
// Purpose:
//   This package implements fixed-window rate limiting over an atomic
//   counter store. Each check is one increment-and-compare per window; the
//   store (Redis in production) guarantees the increment and TTL apply as a
//   single primitive, so concurrent requests can never both observe a
//   pre-increment count.
//
// Key Responsibilities:
//   - Per-second limits for all tiers, per-day limits for the free tier
//   - Window key construction: second:{keyID}:{unixSecond}, daily:{keyID}:{date}
//   - Fail-closed behavior: a counter store error denies the request
package limiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/config"
)

// UnlimitedDaily marks a tier without a daily quota in Decision.RemainingDaily.
const UnlimitedDaily int64 = -1

// RateLimiter checks call quotas against an atomic counter store.
type RateLimiter struct {
	counters account.CounterStore
	pricing  *config.Pricing
	logger   *zap.Logger
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter over the given counter store. The
// tier limit table comes from the static pricing configuration.
func NewRateLimiter(counters account.CounterStore, pricing *config.Pricing, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		counters: counters,
		pricing:  pricing,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the limiter's clock. Test hook.
func (r *RateLimiter) SetClock(now func() time.Time) {
	r.now = now
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	// ErrorCode is set when denied: PER_SECOND_RATE_LIMITED,
	// DAILY_RATE_LIMITED, or STORE_UNAVAILABLE.
	ErrorCode string
	// RemainingDaily is the number of calls left in the daily window, or
	// UnlimitedDaily for tiers without a daily quota.
	RemainingDaily int64
}

// Check runs the tier's window checks for one API key. A denial is terminal
// for the request; nothing is retried. The per-second window is checked
// before the daily window so a burst denial does not consume daily quota.
func (r *RateLimiter) Check(ctx context.Context, apiKeyID string, tier account.Tier) (Decision, error) {
	limits := r.pricing.TierLimitsFor(string(tier))
	now := r.now()

	secondKey := fmt.Sprintf("second:%s:%d", apiKeyID, now.Unix())
	count, err := r.counters.Increment(ctx, secondKey, time.Second)
	if err != nil {
		// Fail closed: an unreachable counter store must not grant free access.
		r.logger.Warn("counter store unavailable, denying request",
			zap.String("api_key_id", apiKeyID),
			zap.Error(err),
		)
		return Decision{Allowed: false, ErrorCode: api.ErrCodeStoreUnavailable}, err
	}
	if count > limits.RequestsPerSecond {
		return Decision{Allowed: false, ErrorCode: api.ErrCodePerSecondRateLimited}, nil
	}

	if limits.DailyCallLimit <= 0 {
		return Decision{Allowed: true, RemainingDaily: UnlimitedDaily}, nil
	}

	dailyKey := fmt.Sprintf("daily:%s:%s", apiKeyID, now.UTC().Format("2006-01-02"))
	count, err = r.counters.Increment(ctx, dailyKey, 24*time.Hour)
	if err != nil {
		r.logger.Warn("counter store unavailable, denying request",
			zap.String("api_key_id", apiKeyID),
			zap.Error(err),
		)
		return Decision{Allowed: false, ErrorCode: api.ErrCodeStoreUnavailable}, err
	}
	if count > limits.DailyCallLimit {
		return Decision{Allowed: false, ErrorCode: api.ErrCodeDailyRateLimited, RemainingDaily: 0}, nil
	}

	return Decision{Allowed: true, RemainingDaily: limits.DailyCallLimit - count}, nil
}
