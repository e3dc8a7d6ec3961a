package sandbox

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// testImage is the Docker image used for integration tests.
const testImage = "fundi-python:latest"

// skipIfNoDocker skips the test if Docker is unavailable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
}

// skipIfNoImage skips the test if the runtime image isn't built.
func skipIfNoImage(t *testing.T) {
	t.Helper()
	out, err := exec.Command("docker", "images", "-q", testImage).Output()
	if err != nil || strings.TrimSpace(string(out)) == "" {
		t.Skipf("docker image %s not found, skipping (build with: docker build -t %s -f docker/Dockerfile.python .)", testImage, testImage)
	}
}

func newTestDockerSandbox(t *testing.T) *DockerSandbox {
	t.Helper()
	skipIfNoDocker(t)
	skipIfNoImage(t)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewDockerSandbox(DockerConfig{
		Image:          testImage,
		DefaultTimeout: 30 * time.Second,
		MemoryMB:       64,
		CPUCores:       0.5,
		PIDsLimit:      32,
	}, logger)
}

func TestDockerSandbox_BasicExecution(t *testing.T) {
	sbx := newTestDockerSandbox(t)

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"echo", "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if got := strings.TrimSpace(result.Stdout); got != "hello" {
		t.Errorf("stdout = %q, want %q", got, "hello")
	}
	if result.Backend != BackendDocker {
		t.Errorf("backend = %q, want %q", result.Backend, BackendDocker)
	}
}

func TestDockerSandbox_NetworkDisabled(t *testing.T) {
	sbx := newTestDockerSandbox(t)

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"python3", "-c", "import socket; socket.create_connection(('1.1.1.1', 80), timeout=2)"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode == 0 {
		t.Error("network connection succeeded, want failure with --network=none")
	}
}

func TestDockerSandbox_TimeoutRemovesContainer(t *testing.T) {
	sbx := newTestDockerSandbox(t)

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sleep", "60"},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}

	// No fundi-sbx container may survive the forced cleanup.
	out, err := exec.Command("docker", "ps", "-a", "--format", "{{.Names}}").Output()
	if err != nil {
		t.Fatalf("docker ps: %v", err)
	}
	for _, name := range strings.Fields(string(out)) {
		if strings.HasPrefix(name, "fundi-sbx-") {
			t.Errorf("leaked container %s after timeout", name)
		}
	}
}

func TestDockerSandbox_WorkspaceMount(t *testing.T) {
	sbx := newTestDockerSandbox(t)

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir+"/main.py", []byte("print('mounted')"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := sbx.Execute(context.Background(), ExecutionRequest{
		Command:    []string{"python3", "main.py"},
		WorkingDir: dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Stdout); got != "mounted" {
		t.Errorf("stdout = %q, want %q", got, "mounted")
	}
}
