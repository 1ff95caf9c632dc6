package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/billing"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/config"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/limiter"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/payments"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/recharge"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/storage/memory"
)

type pipelineFixture struct {
	pipeline *Pipeline
	store    *memory.Store
	now      *time.Time
}

func newPipelineFixture(t *testing.T, acct account.Account, processor payments.Processor) *pipelineFixture {
	t.Helper()

	store := memory.NewStore()
	store.PutAccount(acct)

	counters := memory.NewCounterStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	counters.SetClock(clock)

	pricing := config.DefaultPricing()
	rl := limiter.NewRateLimiter(counters, pricing, nil)
	rl.SetClock(clock)

	if processor == nil {
		processor = payments.StubProcessor{}
	}

	ledger := billing.NewLedger(store, store, pricing, nil)
	recharger := recharge.NewController(store, store, processor, time.Minute, nil)

	return &pipelineFixture{
		pipeline: NewPipeline(rl, ledger, recharger, nil, nil, nil),
		store:    store,
		now:      &now,
	}
}

func TestHandleAllowsSubCentCall(t *testing.T) {
	fx := newPipelineFixture(t, account.Account{ID: "acct-1", BalanceCents: 100}, nil)
	ctx := context.Background()

	acct, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)

	result := fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.True(t, result.Allowed)
	require.Equal(t, "0.3", result.CostCents)
	require.Equal(t, int64(0), result.ChargedCents)
	require.Equal(t, int64(100), result.BalanceCents)
	require.Equal(t, limiter.UnlimitedDaily, result.RemainingDaily)

	stored, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), stored.PendingMillicents)
	require.Empty(t, fx.store.Transactions("acct-1"))
}

func TestHandleChargesWholeCentOnRollover(t *testing.T) {
	fx := newPipelineFixture(t, account.Account{ID: "acct-1", BalanceCents: 100, PendingMillicents: 900}, nil)
	ctx := context.Background()

	acct, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)

	result := fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.True(t, result.Allowed)
	require.Equal(t, int64(1), result.ChargedCents)
	require.Equal(t, int64(99), result.BalanceCents)

	txs := fx.store.Transactions("acct-1")
	require.Len(t, txs, 1)
	require.Equal(t, int64(-1), txs[0].AmountCents)
}

// The per-second check runs before balance checks: a burst denial must not
// reach the billing stages.
func TestHandlePerSecondDenialPrecedesBilling(t *testing.T) {
	fx := newPipelineFixture(t, account.Account{ID: "acct-1", BalanceCents: 0, PendingMillicents: 900}, nil)
	ctx := context.Background()

	acct, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)

	// First call reaches billing and is denied for balance (0.9 + 0.3 cents
	// means a whole cent is due against a zero balance).
	result := fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.False(t, result.Allowed)
	require.Equal(t, api.ErrCodeInsufficientBalance, result.ErrorCode)

	// Second call in the same second is stopped by the free tier's 1 req/sec
	// cap before any billing check runs.
	result = fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.False(t, result.Allowed)
	require.Equal(t, api.ErrCodePerSecondRateLimited, result.ErrorCode)

	// Neither denial touched the accumulator.
	stored, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(900), stored.PendingMillicents)
}

func TestHandleMonthlyLimitDenial(t *testing.T) {
	limit := int64(1000)
	fx := newPipelineFixture(t, account.Account{
		ID:                  "acct-1",
		BalanceCents:        5000,
		PendingMillicents:   900,
		MonthlyLimitCents:   &limit,
		UsageThisMonthCents: 1000,
	}, nil)
	ctx := context.Background()

	acct, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)

	result := fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.False(t, result.Allowed)
	require.Equal(t, api.ErrCodeMonthlyLimitReached, result.ErrorCode)

	stored, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(5000), stored.BalanceCents)
	require.Equal(t, int64(900), stored.PendingMillicents)
}

func TestHandleUnknownTool(t *testing.T) {
	fx := newPipelineFixture(t, account.Account{ID: "acct-1", BalanceCents: 100}, nil)
	ctx := context.Background()

	acct, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)

	result := fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "no-such-tool")
	require.False(t, result.Allowed)
	require.Equal(t, api.ErrCodeUnknownTool, result.ErrorCode)
}

func TestHandleTriggersAutoRecharge(t *testing.T) {
	fx := newPipelineFixture(t, account.Account{
		ID:                 "acct-1",
		BalanceCents:       500,
		PendingMillicents:  900,
		PaymentCustomerRef: "cus_123",
		PaymentMethodRef:   "pm_123",
		AutoRecharge: account.AutoRechargeSettings{
			Enabled:        true,
			ThresholdCents: 500,
			AmountCents:    1500,
		},
	}, nil)
	ctx := context.Background()

	acct, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)

	// Deduction takes the balance to 499, crossing the 500-cent threshold;
	// the stub processor approves the 1500-cent top-up.
	result := fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.True(t, result.Allowed)
	require.Equal(t, int64(1999), result.BalanceCents)

	txs := fx.store.Transactions("acct-1")
	require.Len(t, txs, 2)
	require.Equal(t, account.TransactionCharge, txs[0].Type)
	require.Equal(t, account.TransactionAutoRecharge, txs[1].Type)
	require.Equal(t, int64(1500), txs[1].AmountCents)
}

type decliningProcessor struct{}

func (decliningProcessor) ChargeStoredMethod(context.Context, string, string, int64) (payments.ChargeResult, error) {
	return payments.ChargeResult{Status: payments.StatusFailed, Reason: "card declined"}, nil
}

// A failed top-up is bookkeeping only; the request that triggered it still
// succeeds.
func TestHandleRechargeFailureDoesNotFailRequest(t *testing.T) {
	fx := newPipelineFixture(t, account.Account{
		ID:                 "acct-1",
		BalanceCents:       500,
		PendingMillicents:  900,
		PaymentCustomerRef: "cus_123",
		PaymentMethodRef:   "pm_123",
		AutoRecharge: account.AutoRechargeSettings{
			Enabled:        true,
			ThresholdCents: 500,
			AmountCents:    1500,
		},
	}, decliningProcessor{})
	ctx := context.Background()

	acct, err := fx.store.Get(ctx, "acct-1")
	require.NoError(t, err)

	result := fx.pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.True(t, result.Allowed)
	require.Equal(t, int64(499), result.BalanceCents)
}

type failingCounterStore struct{}

func (failingCounterStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("counter store down")
}

func TestHandleFailsClosedWhenCountersDown(t *testing.T) {
	store := memory.NewStore()
	store.PutAccount(account.Account{ID: "acct-1", BalanceCents: 100})

	pricing := config.DefaultPricing()
	rl := limiter.NewRateLimiter(failingCounterStore{}, pricing, nil)
	ledger := billing.NewLedger(store, store, pricing, nil)
	recharger := recharge.NewController(store, store, payments.StubProcessor{}, time.Minute, nil)
	pipeline := NewPipeline(rl, ledger, recharger, nil, nil, nil)

	ctx := context.Background()
	acct, err := store.Get(ctx, "acct-1")
	require.NoError(t, err)

	result := pipeline.Handle(ctx, account.APIKey{ID: "key-1"}, &acct, "slugify")
	require.False(t, result.Allowed)
	require.Equal(t, api.ErrCodeStoreUnavailable, result.ErrorCode)
}
