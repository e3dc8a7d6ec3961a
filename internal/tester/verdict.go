package tester

import (
	"github.com/google/uuid"

	"github.com/jkaninda/fundi/internal/executor"
)

// Status is the lifecycle state of a subtask under test:
// Pending → Running → {Passed, Failed, Error}.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	// StatusError marks non-test failures: compile errors, setup failures,
	// backend trouble. Distinct from Failed so the final report can tell
	// "the tests failed" apart from "the attempt never ran".
	StatusError Status = "error"
)

// MetricKind names the primary metric a verdict carries.
type MetricKind string

const (
	MetricNone        MetricKind = ""
	MetricDurationMS  MetricKind = "duration_ms"
	MetricMemoryKB    MetricKind = "memory_kb"
	MetricCoveragePct MetricKind = "coverage_pct"
	MetricFindings    MetricKind = "finding_count"
)

// Metric is a verdict's primary measurement.
type Metric struct {
	Kind  MetricKind `json:"kind,omitempty"`
	Value float64    `json:"value,omitempty"`
}

// Verdict is the structured outcome of applying one discipline to one
// subtask's artifact. Never mutated after creation.
type Verdict struct {
	ID         uuid.UUID
	SubtaskID  string
	Discipline Discipline
	Status     Status
	Metric     Metric
	Message    string
	Attempts   int // Total attempts consumed; filled in by the retry layer.

	// Outcome is the raw execution result backing this verdict. Nil for
	// verdicts produced without an execution (e.g. unsupported discipline).
	Outcome *executor.Outcome
}

// Passed reports whether the verdict is terminal-success.
func (v *Verdict) Passed() bool { return v.Status == StatusPassed }
