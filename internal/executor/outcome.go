package executor

import (
	"time"

	"github.com/jkaninda/fundi/internal/sandbox"
)

// Outcome is the interpreted result of one executor run. It is produced
// once, never mutated, and consumed by exactly one discipline handler.
// Timeouts and compile failures are discriminants here, not Go errors;
// errors are reserved for the executor itself failing (setup, backend).
type Outcome struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	Duration     time.Duration
	PeakMemoryKB int64 // Best-effort; 0 when unmeasurable.
	TimedOut     bool
	Truncated    bool // stdout/stderr hit the output cap.
	Backend      sandbox.BackendKind

	// CompileError marks a failed compile step. Stderr holds the compiler
	// output; the unit was never run.
	CompileError bool
}

// Success reports whether the run completed cleanly.
func (o *Outcome) Success() bool {
	return !o.CompileError && !o.TimedOut && o.ExitCode == 0
}

// CombinedOutput merges stdout and stderr for human-readable messages.
func (o *Outcome) CombinedOutput() string {
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	}
	return o.Stdout + "\n" + o.Stderr
}
