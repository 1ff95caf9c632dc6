package public

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/api"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/limiter"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/metering"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/tools"
)

// ToolRequest is the body of a metered tool call.
type ToolRequest struct {
	Input string `json:"input"`
}

// ToolResponse is the caller contract: the admission decision plus, when
// allowed, the tool result and billing context.
type ToolResponse struct {
	Allowed        bool   `json:"allowed"`
	Result         string `json:"result,omitempty"`
	CostCents      string `json:"cost_cents,omitempty"`
	RemainingDaily *int64 `json:"remaining_daily,omitempty"`
	BalanceCents   int64  `json:"balance_cents"`
	ErrorType      string `json:"error_type,omitempty"`
	Error          string `json:"error,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Handler serves the metered tool endpoints.
type Handler struct {
	logger   *zap.Logger
	pipeline *metering.Pipeline
	registry tools.Registry
}

// NewHandler creates the public handler.
func NewHandler(logger *zap.Logger, pipeline *metering.Pipeline, registry tools.Registry) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		pipeline: pipeline,
		registry: registry,
	}
}

// RegisterRoutes registers the authenticated routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/tools/{toolID}", h.HandleTool)
	r.Get("/v1/account", h.HandleAccount)
}

// HandleTool runs one metered tool call end to end: admission, execution,
// response envelope.
func (h *Handler) HandleTool(w http.ResponseWriter, r *http.Request) {
	key, ok := KeyFromContext(r.Context())
	if !ok {
		writeDenial(w, r, api.ErrCodeInvalidAPIKey, "missing authentication context", 0)
		return
	}
	acct, _ := AccountFromContext(r.Context())

	toolID := chi.URLParam(r, "toolID")
	tool, ok := h.registry.Get(toolID)
	if !ok {
		writeDenial(w, r, api.ErrCodeUnknownTool, "unknown tool "+toolID, acct.BalanceCents)
		return
	}

	var req ToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ToolResponse{
			Allowed:      false,
			ErrorType:    "INVALID_REQUEST",
			Error:        "request body must be JSON with an input field",
			BalanceCents: acct.BalanceCents,
		})
		return
	}

	result := h.pipeline.Handle(r.Context(), key, &acct, toolID)
	if !result.Allowed {
		writeDenial(w, r, result.ErrorCode, result.ErrorMessage, result.BalanceCents)
		return
	}

	output, err := tool(req.Input)
	if err != nil {
		// The deduction stands; a malformed input is still a billed call,
		// same as any other O(1) tool evaluation.
		writeJSON(w, http.StatusUnprocessableEntity, ToolResponse{
			Allowed:      true,
			CostCents:    result.CostCents,
			BalanceCents: result.BalanceCents,
			Error:        err.Error(),
			TraceID:      api.TraceID(r.Context()),
		})
		return
	}

	resp := ToolResponse{
		Allowed:      true,
		Result:       output,
		CostCents:    result.CostCents,
		BalanceCents: result.BalanceCents,
		TraceID:      api.TraceID(r.Context()),
	}
	if result.RemainingDaily != limiter.UnlimitedDaily {
		remaining := result.RemainingDaily
		resp.RemainingDaily = &remaining
	}

	writeJSON(w, http.StatusOK, resp)
}

// accountResponse summarizes the authenticated account.
type accountResponse struct {
	AccountID           string `json:"account_id"`
	BalanceCents        int64  `json:"balance_cents"`
	PendingMillicents   int64  `json:"pending_millicents"`
	UsageThisMonthCents int64  `json:"usage_this_month_cents"`
	MonthlyLimitCents   *int64 `json:"monthly_limit_cents,omitempty"`
	Tier                string `json:"tier"`
	AutoRechargeEnabled bool   `json:"auto_recharge_enabled"`
}

// HandleAccount returns the authenticated account's balance summary.
func (h *Handler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := AccountFromContext(r.Context())
	if !ok {
		writeDenial(w, r, api.ErrCodeInvalidAPIKey, "missing authentication context", 0)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{
		AccountID:           acct.ID,
		BalanceCents:        acct.BalanceCents,
		PendingMillicents:   acct.PendingMillicents,
		UsageThisMonthCents: acct.UsageThisMonthCents,
		MonthlyLimitCents:   acct.MonthlyLimitCents,
		Tier:                string(account.TierFor(acct.BalanceCents)),
		AutoRechargeEnabled: acct.AutoRecharge.Enabled,
	})
}
