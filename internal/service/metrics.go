package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics recorded by the admission service.
// Pass to components that need to record metrics.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	StoreFailures    prometheus.Counter
	EvaluateDuration *prometheus.HistogramVec
}

// Decision outcomes recorded in the Decisions counter.
const (
	OutcomeAdmitted = "admitted"
	OutcomeDenied   = "denied"
	OutcomeBypassed = "bypassed"
	OutcomeFailOpen = "fail_open"
)

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mintoons",
				Subsystem: "quota",
				Name:      "decisions_total",
				Help:      "Total admission decisions by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		StoreFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mintoons",
				Subsystem: "quota",
				Name:      "store_failures_total",
				Help:      "Total counter store failures that caused a fail-open admission",
			},
		),
		EvaluateDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mintoons",
				Subsystem: "quota",
				Name:      "evaluate_duration_seconds",
				Help:      "Admission evaluation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
}
