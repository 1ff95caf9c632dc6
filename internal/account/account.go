// Package account defines the core domain types for metered API access:
// accounts, API keys, transactions, and the store contracts the admission
// pipeline depends on.
//
// Purpose:
//   This package is the shared vocabulary between the rate limiter, the
//   billing ledger, the auto-recharge controller, and the storage backends.
//   It holds no business logic beyond fixed-point money arithmetic.
//
// Key Responsibilities:
//   - Account, APIKey, and Transaction domain types
//   - Fixed-point millicent money helpers (no floats in the billing path)
//   - Store interfaces implemented by internal/storage backends
package account

import (
	"context"
	"errors"
	"time"
)

// TransactionType classifies a balance-affecting event.
type TransactionType string

const (
	TransactionCharge       TransactionType = "charge"
	TransactionDeposit      TransactionType = "deposit"
	TransactionAutoRecharge TransactionType = "auto_recharge"
	TransactionRefund       TransactionType = "refund"
)

// Tier is the access class derived from account balance.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// TierFor derives the access tier from the current balance.
func TierFor(balanceCents int64) Tier {
	if balanceCents > 0 {
		return TierPaid
	}
	return TierFree
}

// AutoRechargeSettings configures automatic top-ups for an account.
type AutoRechargeSettings struct {
	Enabled        bool
	ThresholdCents int64
	AmountCents    int64
}

// Account is the billable principal. BalanceCents is the authoritative
// currency unit; PendingMillicents holds the unapplied sub-cent remainder
// and is always in [0, 1000).
type Account struct {
	ID                          string
	BalanceCents                int64
	PendingMillicents           int64
	MonthlyLimitCents           *int64
	UsageThisMonthCents         int64
	AutoRecharge                AutoRechargeSettings
	PaymentCustomerRef          string
	PaymentMethodRef            string
	LastAutoRechargeAttemptAt   *time.Time
	FailedAutoRechargeCount     int
	SuccessfulAutoRechargeCount int
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// APIKey authenticates requests against an account.
type APIKey struct {
	ID         string
	AccountID  string
	SecretHash string
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Transaction is one immutable row of the append-only ledger. AmountCents is
// signed: negative for charges, positive for deposits and recharges. Rows are
// never updated or deleted.
type Transaction struct {
	ID          string
	AccountID   string
	Type        TransactionType
	AmountCents int64
	ToolID      string
	Description string
	CreatedAt   time.Time
}

// ErrNotFound is returned by stores when the requested account or API key
// does not exist.
var ErrNotFound = errors.New("account: not found")

// CounterStore is the atomic counter service backing the rate limiter.
// Increment must be a single atomic primitive at the store: it increments the
// counter, applies the TTL on first increment, and returns the new count in
// one round trip. A GET-then-SET implementation is not acceptable; concurrent
// callers would both observe the pre-increment value.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// AccountStore provides account reads and the narrow writes the admission
// pipeline needs. Balance mutations are deliberately absent here; they go
// through TransactionLedger so the balance delta and the ledger row commit
// as one unit.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (Account, error)

	// LookupAPIKey resolves a raw key secret to its key and owning account.
	// Returns ErrNotFound for unknown or revoked secrets.
	LookupAPIKey(ctx context.Context, secret string) (APIKey, Account, error)

	// SetPendingMillicents overwrites the sub-cent accumulator.
	SetPendingMillicents(ctx context.Context, accountID string, millicents int64) error

	// AcquireRechargeAttempt performs the compare-and-swap that elects a
	// single auto-recharge winner: it sets last_auto_recharge_attempt_at to
	// now only if the stored value still equals observed (both may be nil).
	// Returns false when another request already owns the attempt.
	AcquireRechargeAttempt(ctx context.Context, accountID string, observed *time.Time, now time.Time) (bool, error)

	// RecordRechargeOutcome updates the success/failure bookkeeping counters
	// after a charge attempt completes.
	RecordRechargeOutcome(ctx context.Context, accountID string, success bool) error

	// TouchAPIKey updates the key's last-used timestamp. Best effort.
	TouchAPIKey(ctx context.Context, keyID string, at time.Time) error
}

// TransactionLedger is the append-only source of truth for balance-affecting
// events. Record appends an immutable transaction row AND adjusts the account
// balance (and, for charges, the monthly usage counter) as one atomic unit,
// returning the post-adjustment balance.
type TransactionLedger interface {
	Record(ctx context.Context, accountID string, txType TransactionType, amountCents int64, toolID, description string) (newBalanceCents int64, err error)
}
