package sandbox

import (
	"context"
	"io"
	"log/slog"
)

// Config selects and configures the isolation backend.
type Config struct {
	// Backend forces a backend: "docker", "process", or "" / "auto" to
	// probe Docker and fall back to the process sandbox.
	Backend string

	Docker  DockerConfig
	Process ProcessConfig
}

// Environment holds the process-wide backend selection. It is constructed
// once at startup, is immutable afterwards, and is safe for concurrent use
// by all workers without locking.
type Environment struct {
	backend  Backend
	degraded bool
}

// dockerProbe is swapped out in tests to simulate daemon availability.
var dockerProbe = func(ctx context.Context, s *DockerSandbox) error {
	return s.Probe(ctx)
}

// NewEnvironment probes backend availability exactly once and fixes the
// selection for the lifetime of the process. Docker is preferred; on
// ErrBackendUnavailable the process sandbox is used and a degraded-mode
// notice is emitted. The probe is never repeated mid-run.
func NewEnvironment(ctx context.Context, cfg Config, logger *slog.Logger) *Environment {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch cfg.Backend {
	case "process":
		return &Environment{backend: NewProcessSandbox(cfg.Process, logger)}
	case "docker":
		return &Environment{backend: NewDockerSandbox(cfg.Docker, logger)}
	}

	docker := NewDockerSandbox(cfg.Docker, logger)
	if err := dockerProbe(ctx, docker); err != nil {
		logger.Warn("docker unavailable, running in degraded mode with process sandbox",
			slog.String("error", err.Error()),
		)
		return &Environment{
			backend:  NewProcessSandbox(cfg.Process, logger),
			degraded: true,
		}
	}

	logger.Info("sandbox environment ready", slog.String("backend", string(BackendDocker)))
	return &Environment{backend: docker}
}

// NewStaticEnvironment wraps an already-constructed backend. Used by tests
// and by callers that manage backend selection themselves.
func NewStaticEnvironment(b Backend) *Environment {
	return &Environment{backend: b}
}

// Backend returns the selected isolation backend.
func (e *Environment) Backend() Backend { return e.backend }

// Kind returns the selected backend kind.
func (e *Environment) Kind() BackendKind { return e.backend.Kind() }

// Degraded reports whether the environment fell back to the process sandbox
// because Docker was unavailable at startup.
func (e *Environment) Degraded() bool { return e.degraded }
