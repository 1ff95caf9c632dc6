// Package billingfeed streams balance-affecting events to downstream
// consumers (analytics, invoicing) over Kafka.
//
// Purpose:
//   Every applied charge and auto-recharge attempt is emitted as a JSON
//   event. Delivery is at-least-once: events that cannot reach the brokers
//   spill to a local disk buffer and are retried in the background. The feed
//   is strictly best-effort from the caller's perspective; an emit failure
//   never affects admission.
package billingfeed

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a billing feed event.
type EventType string

const (
	EventCharge       EventType = "charge"
	EventAutoRecharge EventType = "auto_recharge"
)

// Event is one billing feed record.
type Event struct {
	EventID        string    `json:"event_id"`
	AccountID      string    `json:"account_id"`
	APIKeyID       string    `json:"api_key_id,omitempty"`
	Type           EventType `json:"type"`
	ToolID         string    `json:"tool_id,omitempty"`
	AmountCents    int64     `json:"amount_cents"`
	CostMillicents int64     `json:"cost_millicents,omitempty"`
	Success        bool      `json:"success"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID and UTC timestamp.
func NewEvent(accountID string, eventType EventType) Event {
	return Event{
		EventID:   uuid.New().String(),
		AccountID: accountID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}
