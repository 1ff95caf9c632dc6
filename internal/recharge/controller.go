// Package recharge implements automatic balance top-ups.
//
// Purpose:
//   When a deduction drops an account's balance to or below its configured
//   threshold, exactly one top-up charge must fire even when many requests
//   cross the threshold in the same instant. The controller elects a single
//   winner with a compare-and-swap on the last-attempt timestamp; losers do
//   nothing, since the next request re-evaluates the trigger condition.
//
// Key Responsibilities:
//   - Evaluate the trigger condition after each successful deduction
//   - At-most-once attempt election (CAS + cooldown window)
//   - Charge the stored payment method and record the outcome in the ledger
//
// Auto-recharge is side-channel bookkeeping: a failed or skipped top-up
// never fails the request whose deduction triggered it.
package recharge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/metrics"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/payments"
)

// DefaultCooldown bounds retry storms after failed attempts.
const DefaultCooldown = 60 * time.Second

// DefaultMinDepositCents is the smallest top-up the payment rails accept.
const DefaultMinDepositCents = 1000

// Outcome reports what the controller did for one triggering event.
type Outcome struct {
	// Triggered is true when this request won the attempt and a charge was
	// actually tried. Lock losers and cooldown skips report false.
	Triggered       bool
	Success         bool
	NewBalanceCents int64
	Reason          string
}

// Controller detects threshold crossings and runs top-up attempts.
type Controller struct {
	accounts   account.AccountStore
	txlog      account.TransactionLedger
	processor  payments.Processor
	cooldown   time.Duration
	minDeposit int64
	logger     *zap.Logger
	now        func() time.Time
}

// NewController creates an auto-recharge controller. A non-positive cooldown
// falls back to DefaultCooldown.
func NewController(accounts account.AccountStore, txlog account.TransactionLedger, processor payments.Processor, cooldown time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Controller{
		accounts:   accounts,
		txlog:      txlog,
		processor:  processor,
		cooldown:   cooldown,
		minDeposit: DefaultMinDepositCents,
		logger:     logger,
		now:        time.Now,
	}
}

// SetMinDeposit overrides the minimum accepted top-up amount.
func (c *Controller) SetMinDeposit(cents int64) {
	c.minDeposit = cents
}

// SetClock overrides the controller's clock. Test hook.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// MaybeTrigger evaluates the trigger condition for an account whose balance
// just dropped to balanceAfter. It never returns an error; every failure
// path is recorded and swallowed so the originating request is unaffected.
func (c *Controller) MaybeTrigger(ctx context.Context, acct *account.Account, balanceAfter int64) Outcome {
	settings := acct.AutoRecharge
	if !settings.Enabled || balanceAfter > settings.ThresholdCents {
		return Outcome{NewBalanceCents: balanceAfter}
	}

	now := c.now()

	// Cooldown suppresses repeat attempts even after failures, bounding
	// retry storms against a declining card.
	if acct.LastAutoRechargeAttemptAt != nil && now.Sub(*acct.LastAutoRechargeAttemptAt) < c.cooldown {
		return Outcome{NewBalanceCents: balanceAfter}
	}

	// Single-writer election: conditionally swing the attempt timestamp from
	// the value this request observed to now. Zero rows affected means
	// another request owns the attempt; back off without retrying.
	won, err := c.accounts.AcquireRechargeAttempt(ctx, acct.ID, acct.LastAutoRechargeAttemptAt, now)
	if err != nil {
		c.logger.Warn("auto-recharge lock attempt failed",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
		return Outcome{NewBalanceCents: balanceAfter}
	}
	if !won {
		return Outcome{NewBalanceCents: balanceAfter}
	}
	acct.LastAutoRechargeAttemptAt = &now

	return c.charge(ctx, acct, balanceAfter)
}

func (c *Controller) charge(ctx context.Context, acct *account.Account, balanceAfter int64) Outcome {
	amount := acct.AutoRecharge.AmountCents

	if amount < c.minDeposit {
		return c.recordFailure(ctx, acct, balanceAfter,
			fmt.Sprintf("recharge amount %d cents below minimum deposit of %d cents", amount, c.minDeposit))
	}
	if acct.PaymentMethodRef == "" {
		return c.recordFailure(ctx, acct, balanceAfter, "no payment method on file")
	}

	result, err := c.processor.ChargeStoredMethod(ctx, acct.PaymentCustomerRef, acct.PaymentMethodRef, amount)
	if err != nil {
		return c.recordFailure(ctx, acct, balanceAfter, fmt.Sprintf("payment processor error: %v", err))
	}

	switch result.Status {
	case payments.StatusSucceeded:
	case payments.StatusRequiresAction:
		return c.recordFailure(ctx, acct, balanceAfter, "charge requires customer action")
	default:
		reason := result.Reason
		if reason == "" {
			reason = "charge declined"
		}
		return c.recordFailure(ctx, acct, balanceAfter, reason)
	}

	description := fmt.Sprintf("auto-recharge of %d cents (charge %s)", amount, result.ID)
	newBalance, err := c.txlog.Record(ctx, acct.ID, account.TransactionAutoRecharge, amount, "", description)
	if err != nil {
		// The processor charge went through but the credit did not land.
		// Surface loudly; reconciliation against the processor's records is
		// the recovery path.
		c.logger.Error("auto-recharge charged but ledger credit failed",
			zap.String("account_id", acct.ID),
			zap.String("charge_id", result.ID),
			zap.Int64("amount_cents", amount),
			zap.Error(err),
		)
		return Outcome{Triggered: true, NewBalanceCents: balanceAfter, Reason: "ledger credit failed"}
	}

	if err := c.accounts.RecordRechargeOutcome(ctx, acct.ID, true); err != nil {
		c.logger.Warn("failed to record auto-recharge success counters",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
	}

	acct.BalanceCents = newBalance
	acct.FailedAutoRechargeCount = 0
	acct.SuccessfulAutoRechargeCount++

	metrics.AutoRechargeAttemptsTotal.WithLabelValues("success").Inc()
	c.logger.Info("auto-recharge succeeded",
		zap.String("account_id", acct.ID),
		zap.Int64("amount_cents", amount),
		zap.Int64("new_balance_cents", newBalance),
	)

	return Outcome{Triggered: true, Success: true, NewBalanceCents: newBalance}
}

func (c *Controller) recordFailure(ctx context.Context, acct *account.Account, balanceAfter int64, reason string) Outcome {
	if _, err := c.txlog.Record(ctx, acct.ID, account.TransactionAutoRecharge, 0, "", "auto-recharge failed: "+reason); err != nil {
		c.logger.Warn("failed to record auto-recharge failure transaction",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
	}
	if err := c.accounts.RecordRechargeOutcome(ctx, acct.ID, false); err != nil {
		c.logger.Warn("failed to record auto-recharge failure counters",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
	}
	acct.FailedAutoRechargeCount++

	metrics.AutoRechargeAttemptsTotal.WithLabelValues("failure").Inc()
	c.logger.Warn("auto-recharge failed",
		zap.String("account_id", acct.ID),
		zap.String("reason", reason),
	)

	return Outcome{Triggered: true, NewBalanceCents: balanceAfter, Reason: reason}
}
