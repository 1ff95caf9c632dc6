// Package billing implements sub-cent metering over the transaction ledger.
//
// Purpose:
//   Per-tool costs may be fractions of a cent, but payment rails only move
//   whole cents. The ledger aggregates fractional remainders per account and
//   charges a whole cent only once one has accrued. All arithmetic is
//   integer millicents; no floating point touches the balance invariant.
//
// Key Responsibilities:
//   - CheckBalance: fold the pending remainder into this call's cost and
//     decide whether the account can cover the whole-cent portion
//   - CheckMonthlyLimit: enforce the optional monthly spending cap
//   - Deduct: persist the new remainder and apply the whole-cent charge
//     through the atomic transaction ledger
//
// Conservation guarantee: across any call sequence, the sum of applied
// whole-cent charges plus the final pending remainder equals the sum of
// per-call costs. Nothing is lost or double-counted.
package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/config"
)

// Charge is the priced outcome of a balance check: the whole cents to apply
// now and the sub-cent remainder to carry forward.
type Charge struct {
	WholeCents          int64
	RemainderMillicents int64
	CostMillicents      int64
}

// Ledger computes and applies pay-per-call charges.
type Ledger struct {
	accounts account.AccountStore
	txlog    account.TransactionLedger
	pricing  *config.Pricing
	logger   *zap.Logger
}

// NewLedger creates a billing ledger.
func NewLedger(accounts account.AccountStore, txlog account.TransactionLedger, pricing *config.Pricing, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		accounts: accounts,
		txlog:    txlog,
		pricing:  pricing,
		logger:   logger,
	}
}

// CheckBalance folds the account's pending remainder into the tool's cost
// and verifies the account can cover the whole-cent portion. Fails with
// INSUFFICIENT_BALANCE only when a whole cent is actually due; sub-cent
// accrual is always allowed.
func (l *Ledger) CheckBalance(acct *account.Account, toolID string) (Charge, error) {
	cost, ok := l.pricing.ToolCost(toolID)
	if !ok {
		return Charge{}, api.NewError(api.ErrCodeUnknownTool, fmt.Sprintf("unknown tool %q", toolID))
	}

	total := account.Millicents(acct.PendingMillicents + cost)
	charge := Charge{
		WholeCents:          total.WholeCents(),
		RemainderMillicents: int64(total.Remainder()),
		CostMillicents:      cost,
	}

	if charge.WholeCents > 0 && acct.BalanceCents < charge.WholeCents {
		return charge, api.NewError(api.ErrCodeInsufficientBalance,
			fmt.Sprintf("balance %d cents cannot cover %d cent charge", acct.BalanceCents, charge.WholeCents))
	}

	return charge, nil
}

// CheckMonthlyLimit fails with MONTHLY_SPENDING_LIMIT_REACHED when the
// account has a spending cap and this charge would exceed it. Accounts
// without a cap always pass.
func (l *Ledger) CheckMonthlyLimit(acct *account.Account, wholeCents int64) error {
	if acct.MonthlyLimitCents == nil {
		return nil
	}
	if acct.UsageThisMonthCents+wholeCents > *acct.MonthlyLimitCents {
		return api.NewError(api.ErrCodeMonthlyLimitReached,
			fmt.Sprintf("monthly spending limit of %d cents reached", *acct.MonthlyLimitCents))
	}
	return nil
}

// Deduct applies a previously checked charge: it persists the new sub-cent
// remainder and, when a whole cent is due, records a charge transaction
// through the ledger. The ledger append and the balance decrement commit as
// one atomic unit at the store. Returns the post-deduction balance.
func (l *Ledger) Deduct(ctx context.Context, acct *account.Account, charge Charge, toolID string) (int64, error) {
	if err := l.accounts.SetPendingMillicents(ctx, acct.ID, charge.RemainderMillicents); err != nil {
		return acct.BalanceCents, fmt.Errorf("billing: set pending remainder: %w", err)
	}
	acct.PendingMillicents = charge.RemainderMillicents

	if charge.WholeCents == 0 {
		return acct.BalanceCents, nil
	}

	description := fmt.Sprintf("charge for %s (%s cents)", toolID, account.Millicents(charge.CostMillicents).Cents())
	newBalance, err := l.txlog.Record(ctx, acct.ID, account.TransactionCharge, -charge.WholeCents, toolID, description)
	if err != nil {
		return acct.BalanceCents, fmt.Errorf("billing: record charge: %w", err)
	}

	acct.BalanceCents = newBalance
	acct.UsageThisMonthCents += charge.WholeCents

	l.logger.Debug("charge applied",
		zap.String("account_id", acct.ID),
		zap.String("tool_id", toolID),
		zap.Int64("whole_cents", charge.WholeCents),
		zap.Int64("new_balance_cents", newBalance),
	)

	return newBalance, nil
}
