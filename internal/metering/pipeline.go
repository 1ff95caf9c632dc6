// Package metering runs the per-request admission pipeline.
//
// Purpose:
//   One metered call flows through four stages in a fixed order: rate limit
//   check, balance check, monthly cap check, deduction, then auto-recharge
//   evaluation. The pipeline owns that ordering and the structured denial
//   each stage can produce; it holds no state of its own, so every request
//   is an independent unit of work.
package metering

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/billing"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/billingfeed"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/limiter"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/metrics"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/recharge"
)

// Result is the admission decision handed back to the caller surface.
type Result struct {
	Allowed bool
	// ErrorCode and ErrorMessage are set on denial.
	ErrorCode    string
	ErrorMessage string
	// CostCents is this call's cost as a decimal cent string, e.g. "0.3".
	CostCents string
	// RemainingDaily is the free tier's remaining daily quota, or
	// limiter.UnlimitedDaily for paid accounts.
	RemainingDaily int64
	BalanceCents   int64
	ChargedCents   int64
}

// Pipeline wires the admission stages together.
type Pipeline struct {
	limiter   *limiter.RateLimiter
	ledger    *billing.Ledger
	recharger *recharge.Controller
	feed      *billingfeed.Feed
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewPipeline creates the admission pipeline. The feed may be nil when no
// brokers are configured.
func NewPipeline(rl *limiter.RateLimiter, ledger *billing.Ledger, rc *recharge.Controller, feed *billingfeed.Feed, tracer trace.Tracer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		limiter:   rl,
		ledger:    ledger,
		recharger: rc,
		feed:      feed,
		tracer:    tracer,
		logger:    logger,
	}
}

// Handle admits or denies one metered call for the given key and account.
// Denials are terminal: nothing before the failing stage is rolled back
// (counter increments stand) and nothing after it runs.
func (p *Pipeline) Handle(ctx context.Context, key account.APIKey, acct *account.Account, toolID string) Result {
	start := time.Now()
	defer func() {
		metrics.AdmissionDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "metering.Handle",
			trace.WithAttributes(
				attribute.String("tool_id", toolID),
				attribute.String("account_id", acct.ID),
			),
		)
		defer span.End()
	}

	tier := account.TierFor(acct.BalanceCents)

	decision, err := p.limiter.Check(ctx, key.ID, tier)
	if !decision.Allowed {
		if err != nil {
			p.logger.Warn("rate limit check failed closed",
				zap.String("api_key_id", key.ID),
				zap.Error(err),
			)
		}
		return p.deny(toolID, decision.ErrorCode, denialMessage(decision.ErrorCode), acct.BalanceCents)
	}

	charge, err := p.ledger.CheckBalance(acct, toolID)
	if err != nil {
		return p.deny(toolID, api.GetErrorCode(err), err.Error(), acct.BalanceCents)
	}

	if err := p.ledger.CheckMonthlyLimit(acct, charge.WholeCents); err != nil {
		return p.deny(toolID, api.GetErrorCode(err), err.Error(), acct.BalanceCents)
	}

	balanceAfter, err := p.ledger.Deduct(ctx, acct, charge, toolID)
	if err != nil {
		// The deduction did not land; deny rather than serve an unbilled call.
		p.logger.Error("deduction failed",
			zap.String("account_id", acct.ID),
			zap.String("tool_id", toolID),
			zap.Error(err),
		)
		return p.deny(toolID, api.ErrCodeStoreUnavailable, "billing store unavailable", acct.BalanceCents)
	}

	if charge.WholeCents > 0 {
		metrics.ChargedCentsTotal.Add(float64(charge.WholeCents))
		p.emitCharge(ctx, key, acct, toolID, charge)
	}

	outcome := p.recharger.MaybeTrigger(ctx, acct, balanceAfter)
	if outcome.Triggered {
		p.emitRecharge(ctx, acct, outcome)
	}

	metrics.RequestsTotal.WithLabelValues(toolID, "allowed").Inc()

	return Result{
		Allowed:        true,
		CostCents:      account.Millicents(charge.CostMillicents).Cents(),
		RemainingDaily: decision.RemainingDaily,
		BalanceCents:   outcome.NewBalanceCents,
		ChargedCents:   charge.WholeCents,
	}
}

func (p *Pipeline) deny(toolID, code, message string, balance int64) Result {
	metrics.RequestsTotal.WithLabelValues(toolID, "denied").Inc()
	metrics.DenialsTotal.WithLabelValues(code).Inc()
	return Result{
		Allowed:      false,
		ErrorCode:    code,
		ErrorMessage: message,
		BalanceCents: balance,
	}
}

func (p *Pipeline) emitCharge(ctx context.Context, key account.APIKey, acct *account.Account, toolID string, charge billing.Charge) {
	if p.feed == nil {
		return
	}
	event := billingfeed.NewEvent(acct.ID, billingfeed.EventCharge)
	event.APIKeyID = key.ID
	event.ToolID = toolID
	event.AmountCents = -charge.WholeCents
	event.CostMillicents = charge.CostMillicents
	event.Success = true
	p.feed.Emit(ctx, event)
}

func (p *Pipeline) emitRecharge(ctx context.Context, acct *account.Account, outcome recharge.Outcome) {
	if p.feed == nil {
		return
	}
	event := billingfeed.NewEvent(acct.ID, billingfeed.EventAutoRecharge)
	event.Success = outcome.Success
	event.Reason = outcome.Reason
	if outcome.Success {
		event.AmountCents = acct.AutoRecharge.AmountCents
	}
	p.feed.Emit(ctx, event)
}

func denialMessage(code string) string {
	switch code {
	case api.ErrCodePerSecondRateLimited:
		return "per-second rate limit exceeded"
	case api.ErrCodeDailyRateLimited:
		return "daily call limit exceeded"
	case api.ErrCodeStoreUnavailable:
		return "rate limit store unavailable"
	default:
		return "request denied"
	}
}
