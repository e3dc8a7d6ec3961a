package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	// defaultMaxOutputBytes caps stdout/stderr to prevent OOM from chatty code.
	defaultMaxOutputBytes = 1 << 20 // 1 MB

	defaultProcessTimeout = 30 * time.Second
	defaultCPUSeconds     = 10
	defaultMemoryMB       = 500
	defaultOpenFiles      = 64
	defaultFileSizeMB     = 32
)

// credentialEnvPatterns marks request-level env keys that must never reach
// untrusted code, even when a caller passes them in explicitly.
var credentialEnvPatterns = []string{
	"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL", "AUTH",
}

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
}

// ProcessSandbox executes commands as isolated OS processes. It is the
// degraded-mode fallback when Docker is unavailable.
//
// Security guarantees:
//   - Each execution gets its own temp directory (removed after)
//   - Process runs in its own process group (Setpgid)
//   - Entire process group killed on timeout/cancel
//   - No environment inheritance from the parent — only a minimal safe set,
//     with credential-bearing keys stripped from request extras
//   - CPU time, virtual memory, file size, and open-FD limits via ulimit
//   - stdout/stderr capped, truncation flagged
type ProcessSandbox struct {
	defaultTimeout time.Duration
	defaultLimits  ResourceLimits
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultProcessTimeout
	}

	limits := cfg.DefaultLimits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}
	if limits.MaxOpenFiles == 0 {
		limits.MaxOpenFiles = defaultOpenFiles
	}
	if limits.MaxOutputBytes == 0 {
		limits.MaxOutputBytes = defaultMaxOutputBytes
	}

	return &ProcessSandbox{
		defaultTimeout: timeout,
		defaultLimits:  limits,
		logger:         logger,
	}
}

func (s *ProcessSandbox) Kind() BackendKind { return BackendProcess }

// Execute runs a command in an isolated process environment. A wall-clock
// timeout force-kills the whole process group and is reported through
// ExecutionResult.TimedOut, not as an error.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Isolated temp directory; doubles as HOME and, absent an override,
	// the working directory.
	tmpDir, err := os.MkdirTemp("", "fundi-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating sandbox temp dir: %v", ErrSetupFailure, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	limits := s.resolveLimits(req.Limits)

	// The command is wrapped:
	//   sh -c 'ulimit -v KB; ulimit -t SEC; ulimit -n FDS; ulimit -f BLK; exec "$@"' _ cmd args...
	//
	// Using exec "$@" with positional parameters prevents shell injection —
	// the user's command is never interpolated into the shell string.
	memKB := limits.MaxMemoryMB * 1024
	fileBlocks := defaultFileSizeMB * 2048 // ulimit -f counts 512-byte blocks.
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; ulimit -n %d 2>/dev/null; ulimit -f %d 2>/dev/null; exec \"$@\"",
		memKB, limits.MaxCPUSeconds, limits.MaxOpenFiles, fileBlocks,
	)
	args := make([]string, 0, 3+len(req.Command))
	args = append(args, "-c", shellScript, "_") // "_" is the $0 placeholder
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)

	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	} else {
		cmd.Dir = tmpDir
	}

	// Own process group, so the watchdog can kill everything the code spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.Env = s.buildEnv(tmpDir, req.Env)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutW := &limitedWriter{w: &stdoutBuf, remaining: limits.MaxOutputBytes}
	stderrW := &limitedWriter{w: &stderrBuf, remaining: limits.MaxOutputBytes}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	s.logger.Info("sandbox executing",
		slog.Any("command", req.Command),
		slog.String("dir", cmd.Dir),
		slog.Int("memory_limit_mb", limits.MaxMemoryMB),
		slog.Int("cpu_limit_sec", limits.MaxCPUSeconds),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &ExecutionResult{
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		Duration:        duration,
		OutputTruncated: stdoutW.truncated || stderrW.truncated,
		PeakMemoryKB:    peakRSSKB(cmd),
		Backend:         BackendProcess,
	}

	if runErr != nil {
		if ctx.Err() != nil {
			s.logger.Warn("sandbox execution timed out",
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			result.TimedOut = true
			result.ExitCode = timeoutExitCode
			return result, nil
		}

		// Non-zero exit is a result, not an error.
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
	}

	s.logger.Info("sandbox execution completed",
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	return result, nil
}

// resolveLimits merges request-level overrides with sandbox defaults.
func (s *ProcessSandbox) resolveLimits(req ResourceLimits) ResourceLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	if req.MaxOpenFiles > 0 {
		limits.MaxOpenFiles = req.MaxOpenFiles
	}
	if req.MaxOutputBytes > 0 {
		limits.MaxOutputBytes = req.MaxOutputBytes
	}
	return limits
}

// buildEnv constructs a minimal, safe environment. The parent process's
// environment is NEVER inherited, and request extras that look like
// credentials are dropped.
func (s *ProcessSandbox) buildEnv(tmpDir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	for k, v := range extra {
		if isCredentialKey(k) {
			s.logger.Warn("dropping credential-like env var from sandbox request",
				slog.String("key", k))
			continue
		}
		env = append(env, k+"="+v)
	}
	return env
}

// isCredentialKey reports whether an env key matches the credential deny-list.
func isCredentialKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pat := range credentialEnvPatterns {
		if strings.Contains(upper, pat) {
			return true
		}
	}
	return false
}

// peakRSSKB extracts the child's max resident set size from rusage.
// Best-effort: returns 0 if the process state is unavailable.
func peakRSSKB(cmd *exec.Cmd) int64 {
	if cmd.ProcessState == nil {
		return 0
	}
	if ru, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage); ok && ru != nil {
		return ru.Maxrss // Linux reports KB.
	}
	return 0
}
