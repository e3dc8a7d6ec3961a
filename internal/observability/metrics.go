package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Fundi.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Sandbox execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Discipline verdict metrics.
	VerdictsTotal *prometheus.CounterVec

	// Feedback loop metrics.
	RetriesTotal prometheus.Counter

	// System metrics.
	ActiveSubtasks prometheus.Gauge
	DegradedMode   prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundi",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"backend", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fundi",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"backend"}),

		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fundi",
			Subsystem: "tester",
			Name:      "verdicts_total",
			Help:      "Total discipline verdicts by final status.",
		}, []string{"discipline", "status"}),

		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fundi",
			Subsystem: "feedback",
			Name:      "retries_total",
			Help:      "Total revision retries across all subtasks.",
		}),

		ActiveSubtasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fundi",
			Name:      "active_subtasks",
			Help:      "Number of subtasks currently executing.",
		}),

		DegradedMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fundi",
			Name:      "degraded_mode",
			Help:      "1 when running on the process sandbox fallback, 0 otherwise.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.VerdictsTotal,
		m.RetriesTotal,
		m.ActiveSubtasks,
		m.DegradedMode,
	)

	return m
}
