package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0
	defaultDockerImage     = "fundi-runtime:latest"
	defaultDockerTimeout   = 30 * time.Second
	defaultDockerMemoryMB  = 512

	// containerWorkspace is where a request's WorkingDir is mounted.
	containerWorkspace = "/workspace"

	probeTimeout = 5 * time.Second
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Image          string        // Default image when a request names none.
	DefaultTimeout time.Duration // Wall-clock timeout per execution.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus rate limit (1.0 = one core).
	PIDsLimit      int           // --pids-limit (prevents fork bombs).
}

// DockerSandbox executes commands inside ephemeral Docker containers.
//
// Security guarantees:
//   - Each execution gets its own container (--rm, plus deferred docker rm -f safety net)
//   - ALL Linux capabilities dropped (--cap-drop=ALL)
//   - Read-only root filesystem (--read-only) with tmpfs for writable dirs
//   - Privilege escalation blocked (--security-opt=no-new-privileges)
//   - Non-root user (--user=65534:65534)
//   - No host PID namespace, no docker socket mount, no privileged mode
//   - Network disabled unless a request opts in (--network=none)
//   - Memory hard limit with no swap (OOM kill on exceed)
//   - Host environment never propagated — explicit allow-list only
//   - stdout/stderr capped, truncation flagged
//   - Container always cleaned up, even on timeout/crash
type DockerSandbox struct {
	config DockerConfig
	logger *slog.Logger
}

// NewDockerSandbox creates a Docker-based sandbox.
func NewDockerSandbox(cfg DockerConfig, logger *slog.Logger) *DockerSandbox {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaultDockerTimeout
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaultDockerMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	return &DockerSandbox{
		config: cfg,
		logger: logger,
	}
}

func (s *DockerSandbox) Kind() BackendKind { return BackendDocker }

// Probe checks that the Docker daemon is reachable. A failure means the
// backend is unavailable and the caller should fall back to ProcessSandbox.
func (s *DockerSandbox) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		return fmt.Errorf("%w: docker info: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Execute runs a command inside an ephemeral Docker container with full
// hardening. A wall timeout force-kills the container and is reported
// through ExecutionResult.TimedOut, not as an error. Exit code 124 from
// the in-container watchdog is also treated as a timeout.
func (s *DockerSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerName, err := generateContainerName()
	if err != nil {
		return nil, fmt.Errorf("generating container name: %w", err)
	}

	memoryMB := s.config.MemoryMB
	if req.Limits.MaxMemoryMB > 0 {
		memoryMB = req.Limits.MaxMemoryMB
	}
	maxOutput := req.Limits.MaxOutputBytes
	if maxOutput == 0 {
		maxOutput = defaultMaxOutputBytes
	}
	image := req.Image
	if image == "" {
		image = s.config.Image
	}

	args := s.buildDockerArgs(containerName, image, memoryMB, req)
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "docker", args...)

	// Kill the docker client on context cancellation; the container itself
	// is reaped by the rm -f safety net below.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutW := &limitedWriter{w: &stdoutBuf, remaining: maxOutput}
	stderrW := &limitedWriter{w: &stderrBuf, remaining: maxOutput}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	s.logger.Info("docker sandbox executing",
		slog.String("container", containerName),
		slog.String("image", image),
		slog.Any("command", req.Command),
		slog.Int("memory_mb", memoryMB),
		slog.Float64("cpu_cores", s.config.CPUCores),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// Safety net: force remove the container in case --rm didn't fire
	// (e.g., OOM kill, daemon restart, context cancel race). Runs on every
	// exit path.
	s.forceRemoveContainer(containerName)

	result := &ExecutionResult{
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		Duration:        duration,
		OutputTruncated: stdoutW.truncated || stderrW.truncated,
		Backend:         BackendDocker,
	}

	if runErr != nil {
		if ctx.Err() != nil {
			s.logger.Warn("docker sandbox timed out",
				slog.String("container", containerName),
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			result.TimedOut = true
			result.ExitCode = timeoutExitCode
			return result, nil
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("docker execution failed: %w", runErr)
		}
	}

	// The runtime images exit 124 when the in-container watchdog fires.
	if result.ExitCode == timeoutExitCode {
		result.TimedOut = true
	}

	s.logger.Info("docker sandbox completed",
		slog.String("container", containerName),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	return result, nil
}

// buildDockerArgs constructs the full docker run argument list with all
// security hardening flags. The command itself is NOT included — caller appends it.
func (s *DockerSandbox) buildDockerArgs(name, image string, memoryMB int, req ExecutionRequest) []string {
	memoryFlag := strconv.Itoa(memoryMB) + "m"
	cpuFlag := strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64)
	pidsFlag := strconv.Itoa(s.config.PIDsLimit)

	args := []string{
		"run", "--rm",
		"--name", name,

		// --- Security hardening ---
		"--cap-drop=ALL",                   // Drop all Linux capabilities.
		"--security-opt=no-new-privileges", // Block setuid/setgid escalation.
		"--read-only",                      // Read-only root filesystem.
		"--user=65534:65534",               // Non-root (nobody).

		// --- Resource limits ---
		"--memory=" + memoryFlag,      // Hard memory limit.
		"--memory-swap=" + memoryFlag, // Same as memory = disable swap (OOM kill).
		"--cpus=" + cpuFlag,           // CPU rate limit.
		"--pids-limit=" + pidsFlag,    // Fork bomb protection.

		// --- Writable tmpfs for scratch space ---
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--tmpfs", "/home/sandbox:rw,nosuid,size=64m",

		// --- Explicit allow-list environment (no host inheritance) ---
		"--env", "HOME=/home/sandbox",
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "LANG=en_US.UTF-8",
		"--env", "TERM=dumb",
	}

	// Network policy: no network stack unless the request opts in.
	if req.Limits.NetworkEnabled {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}

	// Mount the unit's workspace; compile steps write artifacts next to
	// the source, so the mount is read-write for the sandbox user.
	if req.WorkingDir != "" {
		args = append(args,
			"--volume", req.WorkingDir+":"+containerWorkspace,
			"--workdir", containerWorkspace,
		)
	} else {
		args = append(args, "--workdir", "/home/sandbox")
	}

	// Extra environment variables, minus anything credential-shaped.
	for k, v := range req.Env {
		if isCredentialKey(k) {
			s.logger.Warn("dropping credential-like env var from sandbox request",
				slog.String("key", k))
			continue
		}
		args = append(args, "--env", k+"="+v)
	}

	// Image (must come after all flags, before command).
	args = append(args, image)

	return args
}

// forceRemoveContainer attempts to remove a container by name.
// Errors are logged but not returned (best-effort cleanup).
func (s *DockerSandbox) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		// "No such container" is expected when --rm already cleaned up.
		if !bytes.Contains(out, []byte("No such container")) {
			s.logger.Warn("docker rm -f failed",
				slog.String("container", name),
				slog.String("error", err.Error()),
				slog.String("output", string(out)),
			)
		}
	}
}

// generateContainerName returns a unique container name: fundi-sbx-<16 hex chars>.
func generateContainerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "fundi-sbx-" + hex.EncodeToString(b), nil
}
