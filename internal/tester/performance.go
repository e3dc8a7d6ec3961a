package tester

import (
	"context"
	"fmt"
)

// runPerformance times one execution and records wall duration plus
// best-effort peak memory. With no thresholds configured the verdict is
// metric-only: it passes whenever the execution itself succeeds.
func (o *Orchestrator) runPerformance(ctx context.Context, in Input) (*Verdict, error) {
	outcome, err := o.runner.Run(ctx, o.request(in, in.Code))
	if err != nil {
		return nil, err
	}

	status, msg := o.classify(outcome)
	durationMS := float64(outcome.Duration.Milliseconds())

	if status == StatusPassed {
		if o.cfg.MaxDurationMS > 0 && durationMS > o.cfg.MaxDurationMS {
			status = StatusFailed
			msg = fmt.Sprintf("duration %.0fms exceeds threshold %.0fms", durationMS, o.cfg.MaxDurationMS)
		}
		// Memory is advisory: only gate on it when both a threshold is set
		// and the backend actually measured usage.
		if status == StatusPassed && o.cfg.MaxMemoryKB > 0 && outcome.PeakMemoryKB > 0 &&
			outcome.PeakMemoryKB > o.cfg.MaxMemoryKB {
			status = StatusFailed
			msg = fmt.Sprintf("peak memory %dKB exceeds threshold %dKB", outcome.PeakMemoryKB, o.cfg.MaxMemoryKB)
		}
	}

	if msg == "" {
		msg = fmt.Sprintf("completed in %.0fms (peak memory %dKB)", durationMS, outcome.PeakMemoryKB)
	}
	return o.newVerdict(in, status, Metric{Kind: MetricDurationMS, Value: durationMS}, msg, outcome), nil
}
