// Package executor orchestrates a single sandboxed execution: it applies
// the language adapter's recipe, runs the optional compile step, enforces
// the wall timeout, and guarantees workspace cleanup on every exit path.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/fundi/internal/language"
	"github.com/jkaninda/fundi/internal/sandbox"
)

const defaultRunTimeout = 30 * time.Second

// Request describes one code artifact to execute.
type Request struct {
	Source   string
	Language language.Language

	// ExtraFiles are materialized next to the source before execution.
	// Discipline harnesses (unit wrappers, coverage runners) use this.
	ExtraFiles map[string]string

	// Command overrides the adapter's run invocation, e.g. to start a
	// harness file instead of the unit itself. Paths are relative to the
	// workspace.
	Command []string

	// Timeout is the wall budget per step; compile and run each get their
	// own full budget. Zero = executor default.
	Timeout time.Duration

	Limits sandbox.ResourceLimits
}

// Runner is the executor capability the discipline handlers depend on.
type Runner interface {
	Run(ctx context.Context, req Request) (*Outcome, error)
}

var _ Runner = (*Executor)(nil)

// Options configures an Executor.
type Options struct {
	// Timeout is the default per-step wall budget. Zero = 30s.
	Timeout time.Duration
	// WorkspaceDir is the base for per-run scratch directories.
	// Empty = system temp dir.
	WorkspaceDir string
}

// Executor runs code artifacts through the process-wide sandbox
// environment. Safe for concurrent use; each call owns a private
// workspace and shares nothing with concurrent calls.
type Executor struct {
	env     *sandbox.Environment
	timeout time.Duration
	baseDir string
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates an executor bound to the given sandbox environment.
func New(env *sandbox.Environment, opts Options, logger *slog.Logger, tracer trace.Tracer) *Executor {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultRunTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Executor{
		env:     env,
		timeout: timeout,
		baseDir: opts.WorkspaceDir,
		logger:  logger,
		tracer:  tracer,
	}
}

// Run materializes the source, compiles if the language requires it, and
// executes the unit. The workspace directory and any compiled artifacts
// are removed on every exit path, including executor-level errors.
func (e *Executor) Run(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "executor.run",
		trace.WithAttributes(
			attribute.String("language", string(req.Language)),
			attribute.String("backend", string(e.env.Kind())),
		))
	defer span.End()

	adapter, err := language.ForLanguage(req.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrSetupFailure, err)
	}

	dir, err := os.MkdirTemp(e.baseDir, "fundi-exec-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating workspace: %v", sandbox.ErrSetupFailure, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			e.logger.Warn("failed to remove workspace",
				slog.String("dir", dir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()
	// The container user (65534) must be able to enter and, for compile
	// steps, write into the workspace.
	if err := os.Chmod(dir, 0o777); err != nil {
		return nil, fmt.Errorf("%w: chmod workspace: %v", sandbox.ErrSetupFailure, err)
	}

	unit, err := adapter.Prepare(dir, req.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sandbox.ErrSetupFailure, err)
	}
	for name, content := range req.ExtraFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("%w: writing %s: %v", sandbox.ErrSetupFailure, name, err)
		}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}
	backend := e.env.Backend()

	// Compile step, for languages that need one. Compile failure is a build
	// blocker: the unit is never run and the outcome says so explicitly.
	if compileCmd := adapter.CompileCommand(unit); compileCmd != nil {
		res, err := backend.Execute(ctx, sandbox.ExecutionRequest{
			Command:    compileCmd,
			WorkingDir: dir,
			Image:      adapter.Image(),
			Timeout:    timeout,
			Limits:     req.Limits,
		})
		if err != nil {
			return nil, fmt.Errorf("compile step: %w", err)
		}
		if res.TimedOut || res.ExitCode != 0 {
			e.logger.Info("compile step failed",
				slog.String("language", string(req.Language)),
				slog.Int("exit_code", res.ExitCode),
				slog.Bool("timed_out", res.TimedOut),
			)
			return &Outcome{
				ExitCode:  res.ExitCode,
				Stdout:    res.Stdout,
				Stderr:    res.Stderr,
				Duration:  res.Duration,
				TimedOut:  res.TimedOut,
				Truncated: res.OutputTruncated,
				Backend:   res.Backend,
				// A timed-out compile is a timeout, not a build diagnostic;
				// the two discriminants stay mutually exclusive.
				CompileError: !res.TimedOut,
			}, nil
		}
	}

	runCmd := req.Command
	if runCmd == nil {
		runCmd = adapter.RunCommand(unit)
	}

	res, err := backend.Execute(ctx, sandbox.ExecutionRequest{
		Command:    runCmd,
		WorkingDir: dir,
		Image:      adapter.Image(),
		Timeout:    timeout,
		Limits:     req.Limits,
	})
	if err != nil {
		return nil, fmt.Errorf("run step: %w", err)
	}

	span.SetAttributes(
		attribute.Int("exit_code", res.ExitCode),
		attribute.Bool("timed_out", res.TimedOut),
	)

	return &Outcome{
		ExitCode:     res.ExitCode,
		Stdout:       res.Stdout,
		Stderr:       res.Stderr,
		Duration:     res.Duration,
		PeakMemoryKB: res.PeakMemoryKB,
		TimedOut:     res.TimedOut,
		Truncated:    res.OutputTruncated,
		Backend:      res.Backend,
	}, nil
}
