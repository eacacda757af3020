// Package metrics provides Prometheus observability for rule evaluation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the evaluation path and the rule management API.
type Metrics struct {
	// Evaluations by final decision
	Evaluations *prometheus.CounterVec

	// Fatal evaluation errors (no match, unknown operator)
	EvaluationErrors prometheus.Counter

	// Per-transaction evaluation latency
	EvaluationLatency prometheus.Histogram

	// Rule mutations by operation and outcome
	RuleMutations *prometheus.CounterVec
}

// New creates a Metrics instance registered on the default registry.
func New() *Metrics {
	return &Metrics{
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "riskrules_evaluations_total",
			Help: "Total transaction evaluations by decision",
		}, []string{"decision"}),

		EvaluationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "riskrules_evaluation_errors_total",
			Help: "Total evaluations that failed with a fatal error",
		}),

		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskrules_evaluation_duration_seconds",
			Help:    "Duration of a single transaction evaluation",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),

		RuleMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "riskrules_rule_mutations_total",
			Help: "Total rule set mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
}

// IncrementEvaluation records one completed evaluation.
func (m *Metrics) IncrementEvaluation(decision string) {
	if m != nil {
		m.Evaluations.WithLabelValues(decision).Inc()
	}
}

// IncrementEvaluationError records one failed evaluation.
func (m *Metrics) IncrementEvaluationError() {
	if m != nil {
		m.EvaluationErrors.Inc()
	}
}

// ObserveEvaluationLatency records the duration of one evaluation.
func (m *Metrics) ObserveEvaluationLatency(d time.Duration) {
	if m != nil {
		m.EvaluationLatency.Observe(d.Seconds())
	}
}

// IncrementRuleMutation records one rule set mutation attempt.
func (m *Metrics) IncrementRuleMutation(operation, outcome string) {
	if m != nil {
		m.RuleMutations.WithLabelValues(operation, outcome).Inc()
	}
}
