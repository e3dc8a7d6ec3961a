// Package sandbox provides isolated execution backends for untrusted,
// machine-generated code. All code runs through a backend — never directly
// on the host.
//
// Two backends exist: DockerSandbox (ephemeral hardened containers) and
// ProcessSandbox (subprocess with ulimit enforcement). The Environment
// probes Docker availability once at startup and selects the backend for
// the lifetime of the process; ProcessSandbox is the degraded-mode fallback.
package sandbox

import (
	"context"
	"errors"
	"io"
	"time"
)

// BackendKind identifies which isolation mechanism produced a result.
type BackendKind string

const (
	BackendDocker  BackendKind = "docker"
	BackendProcess BackendKind = "process"
)

var (
	// ErrBackendUnavailable means the backend cannot be initialized at all
	// (e.g. no Docker daemon). It triggers fallback, never a task failure.
	ErrBackendUnavailable = errors.New("sandbox: backend unavailable")

	// ErrSetupFailure means artifact or workspace preparation failed before
	// any user code ran.
	ErrSetupFailure = errors.New("sandbox: setup failure")
)

// Backend executes commands in an isolated environment.
type Backend interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
	Kind() BackendKind
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	// Command is the program and arguments to execute, with file paths
	// relative to the working directory.
	Command []string

	// WorkingDir is the host directory holding the unit's files. The Docker
	// backend mounts it at /workspace; the process backend chdirs into it.
	// Empty = an anonymous isolated temp dir.
	WorkingDir string

	// Image overrides the backend's default container image. Ignored by the
	// process backend.
	Image string

	// Env adds extra environment variables on top of the sanitized base set.
	// Keys matching the credential deny-list are silently dropped.
	Env map[string]string

	// Timeout is the wall-clock budget. Zero = backend default.
	Timeout time.Duration

	// Limits overrides resource limits. Zero values = backend defaults.
	Limits ResourceLimits
}

// ResourceLimits constrains a sandboxed execution.
//
// NetworkEnabled and Privileged default to false and stay false unless a
// caller opts in explicitly.
type ResourceLimits struct {
	MaxCPUSeconds  int   // CPU time limit.
	MaxMemoryMB    int   // Memory limit in MB.
	MaxOpenFiles   int   // Open file descriptor limit (process backend).
	MaxOutputBytes int   // stdout/stderr cap; excess is truncated and flagged.
	NetworkEnabled bool  // false = no network stack.
	Privileged     bool  // false = non-root execution.
}

// ExecutionResult captures the outcome of one sandboxed execution.
// A timeout or a non-zero exit is a result, not an error — errors are
// reserved for the supervisor itself failing.
type ExecutionResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	Duration        time.Duration
	TimedOut        bool        // Wall budget exceeded; the process was force-killed.
	OutputTruncated bool        // stdout or stderr hit MaxOutputBytes.
	PeakMemoryKB    int64       // Best-effort; 0 when the backend cannot measure it.
	Backend         BackendKind // Which backend produced this result.
}

// timeoutExitCode is the exit code the runtime images report on an
// in-container watchdog timeout (same convention as coreutils timeout).
const timeoutExitCode = 124

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is discarded and the truncation recorded.
type limitedWriter struct {
	w         io.Writer
	remaining int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		lw.truncated = true
		return len(p), nil // Discard, but report full write.
	}
	if len(p) > lw.remaining {
		// A write straddling the cap must still report the full length,
		// or the exec copier turns a capped-but-successful run into
		// io.ErrShortWrite.
		lw.truncated = true
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
