// Package payments integrates the external payment processor.
//
// Purpose:
//   Auto-recharge needs to charge a stored payment method. This package
//   defines the processor contract and an HTTP client implementation for
//   the configured processor endpoint. When no endpoint is configured, a
//   stub that approves every charge is used for development.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChargeStatus is the processor's verdict on a charge attempt.
type ChargeStatus string

const (
	StatusSucceeded      ChargeStatus = "succeeded"
	StatusRequiresAction ChargeStatus = "requires_action"
	StatusFailed         ChargeStatus = "failed"
)

// ChargeResult describes the outcome of a stored-method charge.
type ChargeResult struct {
	Status ChargeStatus `json:"status"`
	ID     string       `json:"id"`
	Reason string       `json:"reason,omitempty"`
}

// Processor charges stored payment methods.
type Processor interface {
	ChargeStoredMethod(ctx context.Context, customerRef, paymentMethodRef string, amountCents int64) (ChargeResult, error)
}

// HTTPProcessor charges through the processor's HTTP API.
type HTTPProcessor struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPProcessor creates a processor client for the given endpoint.
func NewHTTPProcessor(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProcessor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type chargeRequest struct {
	CustomerRef      string `json:"customer_ref"`
	PaymentMethodRef string `json:"payment_method_ref"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency"`
}

// ChargeStoredMethod posts a charge against a stored payment method. A
// non-2xx response or transport error is returned as an error; declines and
// requires-action outcomes come back in the result status.
func (p *HTTPProcessor) ChargeStoredMethod(ctx context.Context, customerRef, paymentMethodRef string, amountCents int64) (ChargeResult, error) {
	payload, err := json.Marshal(chargeRequest{
		CustomerRef:      customerRef,
		PaymentMethodRef: paymentMethodRef,
		AmountCents:      amountCents,
		Currency:         "usd",
	})
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payments: marshal charge request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/charges", p.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payments: create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("payments: charge request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("payment processor returned error status",
			zap.String("customer_ref", customerRef),
			zap.Int("status", resp.StatusCode),
		)
		return ChargeResult{}, fmt.Errorf("payments: processor returned status %d", resp.StatusCode)
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChargeResult{}, fmt.Errorf("payments: decode charge response: %w", err)
	}

	return result, nil
}

// StubProcessor approves every charge. Used when no processor endpoint is
// configured so the gateway can run without payment infrastructure.
type StubProcessor struct{}

// ChargeStoredMethod always succeeds.
func (StubProcessor) ChargeStoredMethod(_ context.Context, _, paymentMethodRef string, _ int64) (ChargeResult, error) {
	if paymentMethodRef == "" {
		return ChargeResult{Status: StatusFailed, Reason: "no payment method on file"}, nil
	}
	return ChargeResult{Status: StatusSucceeded, ID: "stub-charge"}, nil
}
