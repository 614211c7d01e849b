// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric exported by the service.
const Namespace = "cutover"

var (
	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// TransitionsTotal counts lifecycle transition attempts.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by entity, target status and result",
		},
		[]string{"entity", "to", "result"},
	)

	// BreachesTotal counts SLA breach latches set.
	BreachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sla",
			Name:      "breaches_total",
			Help:      "SLA breaches latched by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	// EscalationEventsTotal counts created escalation events.
	EscalationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "escalation",
			Name:      "events_total",
			Help:      "Escalation events created by trigger (manual for manual escalations)",
		},
		[]string{"trigger"},
	)

	// CriticalPathMinutes tracks the last computed critical path length per plan.
	CriticalPathMinutes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "runbook",
			Name:      "critical_path_minutes",
			Help:      "Total planned duration of the critical path",
		},
		[]string{"plan"},
	)
)

// RecordTransition records the outcome of a lifecycle transition.
func RecordTransition(entity, to string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	TransitionsTotal.WithLabelValues(entity, to, result).Inc()
}
