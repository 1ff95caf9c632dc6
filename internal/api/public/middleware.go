// Package public provides the authenticated HTTP surface of the gateway.
//
// Purpose:
//   Request handling for the metered tool endpoints: API key authentication,
//   the admission pipeline, tool execution, and the response envelope the
//   caller contract defines.
package public

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api"
)

type contextKey string

const (
	apiKeyContextKey  contextKey = "api_key"
	accountContextKey contextKey = "account"
)

// APIKeyHeader carries the raw key secret.
const APIKeyHeader = "X-API-Key"

// AuthMiddleware resolves the X-API-Key header to an API key and its owning
// account, placing both in the request context. Missing or unknown keys get
// a 401; a store failure gets a 503 rather than a free pass.
func AuthMiddleware(accounts account.AccountStore, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := r.Header.Get(APIKeyHeader)
			if secret == "" {
				writeDenial(w, r, api.ErrCodeInvalidAPIKey, "missing API key", 0)
				return
			}

			key, acct, err := accounts.LookupAPIKey(r.Context(), secret)
			if err != nil {
				if errors.Is(err, account.ErrNotFound) {
					writeDenial(w, r, api.ErrCodeInvalidAPIKey, "invalid API key", 0)
					return
				}
				logger.Warn("api key lookup failed", zap.Error(err))
				writeDenial(w, r, api.ErrCodeStoreUnavailable, "account store unavailable", 0)
				return
			}

			// Best effort; losing a last-used update is fine.
			go func() {
				touchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := accounts.TouchAPIKey(touchCtx, key.ID, time.Now().UTC()); err != nil {
					logger.Debug("failed to touch api key", zap.String("api_key_id", key.ID), zap.Error(err))
				}
			}()

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			ctx = context.WithValue(ctx, accountContextKey, acct)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyFromContext returns the authenticated API key.
func KeyFromContext(ctx context.Context) (account.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(account.APIKey)
	return key, ok
}

// AccountFromContext returns the authenticated account.
func AccountFromContext(ctx context.Context) (account.Account, bool) {
	acct, ok := ctx.Value(accountContextKey).(account.Account)
	return acct, ok
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDenial(w http.ResponseWriter, r *http.Request, code, message string, balanceCents int64) {
	writeJSON(w, api.GetHTTPStatus(code), ToolResponse{
		Allowed:      false,
		ErrorType:    code,
		Error:        message,
		BalanceCents: balanceCents,
		TraceID:      api.TraceID(r.Context()),
	})
}
