package sandbox

import (
	"context"
	"errors"
	"testing"
)

func TestNewEnvironment_FallsBackWhenDockerUnavailable(t *testing.T) {
	orig := dockerProbe
	dockerProbe = func(ctx context.Context, s *DockerSandbox) error {
		return ErrBackendUnavailable
	}
	t.Cleanup(func() { dockerProbe = orig })

	env := NewEnvironment(context.Background(), Config{}, nil)

	if env.Kind() != BackendProcess {
		t.Errorf("backend kind = %q, want %q", env.Kind(), BackendProcess)
	}
	if !env.Degraded() {
		t.Error("Degraded() = false, want true after fallback")
	}

	// The selection is fixed for the process lifetime: even if Docker came
	// back, no re-probe happens.
	probed := false
	dockerProbe = func(ctx context.Context, s *DockerSandbox) error {
		probed = true
		return nil
	}
	_ = env.Backend()
	_ = env.Kind()
	if probed {
		t.Error("backend re-probed after initial selection")
	}
}

func TestNewEnvironment_SelectsDockerWhenProbeSucceeds(t *testing.T) {
	orig := dockerProbe
	dockerProbe = func(ctx context.Context, s *DockerSandbox) error { return nil }
	t.Cleanup(func() { dockerProbe = orig })

	env := NewEnvironment(context.Background(), Config{}, nil)

	if env.Kind() != BackendDocker {
		t.Errorf("backend kind = %q, want %q", env.Kind(), BackendDocker)
	}
	if env.Degraded() {
		t.Error("Degraded() = true, want false")
	}
}

func TestNewEnvironment_ForcedProcessSkipsProbe(t *testing.T) {
	orig := dockerProbe
	dockerProbe = func(ctx context.Context, s *DockerSandbox) error {
		t.Fatal("probe called despite forced process backend")
		return nil
	}
	t.Cleanup(func() { dockerProbe = orig })

	env := NewEnvironment(context.Background(), Config{Backend: "process"}, nil)
	if env.Kind() != BackendProcess {
		t.Errorf("backend kind = %q, want %q", env.Kind(), BackendProcess)
	}
	if env.Degraded() {
		t.Error("forced process backend must not be reported as degraded")
	}
}

func TestProbeErrorIsBackendUnavailable(t *testing.T) {
	// Contract check for callers that branch on the sentinel.
	err := errors.Join(ErrBackendUnavailable)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatal("wrapped probe error must match ErrBackendUnavailable")
	}
}
