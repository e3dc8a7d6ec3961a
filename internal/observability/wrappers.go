package observability

import (
	"context"
	"time"

	"github.com/jkaninda/fundi/internal/executor"
)

// InstrumentedRunner wraps an executor.Runner with execution metrics.
// The executor creates its own spans, so this layer records metrics only.
type InstrumentedRunner struct {
	inner   executor.Runner
	metrics *MetricsCollector
}

// NewInstrumentedRunner wraps a runner with observability. A nil metrics
// collector makes the wrapper a passthrough.
func NewInstrumentedRunner(inner executor.Runner, metrics *MetricsCollector) *InstrumentedRunner {
	return &InstrumentedRunner{inner: inner, metrics: metrics}
}

func (r *InstrumentedRunner) Run(ctx context.Context, req executor.Request) (*executor.Outcome, error) {
	if r.metrics != nil {
		r.metrics.ActiveSubtasks.Inc()
		defer r.metrics.ActiveSubtasks.Dec()
	}

	start := time.Now()
	outcome, err := r.inner.Run(ctx, req)
	duration := time.Since(start).Seconds()

	if r.metrics != nil {
		backend := "unknown"
		status := "success"
		switch {
		case err != nil:
			status = "error"
		case outcome.CompileError:
			backend = string(outcome.Backend)
			status = "compile_error"
		case outcome.TimedOut:
			backend = string(outcome.Backend)
			status = "timeout"
		case outcome.ExitCode != 0:
			backend = string(outcome.Backend)
			status = "nonzero_exit"
		default:
			backend = string(outcome.Backend)
		}
		r.metrics.ExecutionsTotal.WithLabelValues(backend, status).Inc()
		r.metrics.ExecutionDuration.WithLabelValues(backend).Observe(duration)
	}

	return outcome, err
}

var _ executor.Runner = (*InstrumentedRunner)(nil)
