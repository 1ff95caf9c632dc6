// Package api provides the centralized error catalog for the gateway.
//
// Purpose:
//   Consistent error codes, response formatting, and HTTP status mapping
//   across the public endpoints. Every denial the admission pipeline can
//   produce has exactly one code here.
package api

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Error codes returned in the error_type field of denial responses.
const (
	// Authentication (401)
	ErrCodeInvalidAPIKey = "INVALID_API_KEY"

	// Rate limiting (429)
	ErrCodePerSecondRateLimited = "PER_SECOND_RATE_LIMITED"
	ErrCodeDailyRateLimited     = "DAILY_RATE_LIMITED"

	// Billing (402)
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeMonthlyLimitReached = "MONTHLY_SPENDING_LIMIT_REACHED"
	ErrCodePaymentProcessing   = "PAYMENT_PROCESSING_ERROR"

	// Validation (404)
	ErrCodeUnknownTool = "UNKNOWN_TOOL"

	// Infrastructure (503) — limit checks fail closed, so a store outage
	// surfaces as a denial rather than free access.
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Internal (500)
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// APIError carries a catalog code alongside a human-readable message.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is matches APIErrors by code so errors.Is works across wrapping.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates an error with a specific catalog code.
func NewError(code, message string) error {
	return &APIError{Code: code, Message: message}
}

// GetErrorCode extracts the catalog code from an error, defaulting to
// INTERNAL_ERROR for untyped errors.
func GetErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatus maps an error code to an HTTP status code.
func GetHTTPStatus(code string) int {
	switch code {
	case ErrCodeInvalidAPIKey:
		return http.StatusUnauthorized
	case ErrCodePerSecondRateLimited, ErrCodeDailyRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeInsufficientBalance, ErrCodeMonthlyLimitReached, ErrCodePaymentProcessing:
		return http.StatusPaymentRequired
	case ErrCodeUnknownTool:
		return http.StatusNotFound
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TraceID returns the current trace ID for inclusion in error responses, or
// empty when no span is recording.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
