// Package metrics provides Prometheus collectors for the admission pipeline.
//
// Purpose:
//
//	This package defines and exports Prometheus metrics for rate limiting,
//	billing, and auto-recharge activity. Metrics are registered globally and
//	exposed via the /metrics endpoint.
//
// Dependencies:
//   - github.com/prometheus/client_golang/prometheus: Prometheus Go client
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pioneer_gateway"

var (
	// RequestsTotal counts admission decisions by tool and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "requests_total",
			Help:      "Total number of metered requests by tool and result",
		},
		[]string{"tool", "result"}, // result: allowed, denied
	)

	// DenialsTotal counts denials by reason.
	DenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "denials_total",
			Help:      "Total number of denied requests by reason",
		},
		[]string{"reason"}, // PER_SECOND_RATE_LIMITED, DAILY_RATE_LIMITED, ...
	)

	// ChargedCentsTotal accumulates whole cents charged through the ledger.
	ChargedCentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "charged_cents_total",
			Help:      "Total whole cents charged to accounts",
		},
	)

	// AutoRechargeAttemptsTotal counts auto-recharge charge attempts by result.
	AutoRechargeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recharge",
			Name:      "attempts_total",
			Help:      "Total auto-recharge charge attempts by result",
		},
		[]string{"result"}, // success, failure
	)

	// AdmissionDurationSeconds measures end-to-end admission latency.
	AdmissionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "duration_seconds",
			Help:      "Duration of the admission pipeline in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
