// Package tester maps test disciplines to handlers that execute generated
// code through the sandbox executor and interpret raw outcomes into
// structured verdicts. Six disciplines are supported: basic, unit,
// integration, performance, coverage, security.
package tester

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/fundi/internal/executor"
	"github.com/jkaninda/fundi/internal/language"
	"github.com/jkaninda/fundi/internal/sandbox"
)

// Discipline is a recognized test type. The set is closed; dispatch is by
// tag through the handler table, never by string branching in handlers.
type Discipline string

const (
	Basic       Discipline = "basic"
	Unit        Discipline = "unit"
	Integration Discipline = "integration"
	Performance Discipline = "performance"
	Coverage    Discipline = "coverage"
	Security    Discipline = "security"
)

// ParseDiscipline resolves a discipline tag.
func ParseDiscipline(s string) (Discipline, error) {
	switch Discipline(s) {
	case Basic, Unit, Integration, Performance, Coverage, Security:
		return Discipline(s), nil
	}
	return "", fmt.Errorf("unknown test discipline %q", s)
}

// Config tunes discipline thresholds and per-execution constraints.
type Config struct {
	Timeout time.Duration          // Wall budget per execution step.
	Limits  sandbox.ResourceLimits // Applied to every execution.

	// Performance thresholds. Zero = metric-only verdict (no hard pass/fail
	// on that dimension).
	MaxDurationMS float64
	MaxMemoryKB   int64

	// CoverageMinPct is the minimum line-coverage ratio. Zero = default 70.
	CoverageMinPct float64

	// SeverityFloor is the minimum severity for a security finding to fail
	// the verdict. Zero = Medium.
	SeverityFloor Severity
}

func (c Config) coverageMin() float64 {
	if c.CoverageMinPct > 0 {
		return c.CoverageMinPct
	}
	return 70
}

func (c Config) severityFloor() Severity {
	if c.SeverityFloor > 0 {
		return c.SeverityFloor
	}
	return SeverityMedium
}

// Input is one subtask's artifact submitted for a discipline run.
type Input struct {
	SubtaskID string
	Code      string
	// TestCode is caller-provided test source for the unit discipline.
	// Empty = a smoke harness is synthesized.
	TestCode string
	// Artifacts are previously generated units composed into the scenario
	// by the integration discipline.
	Artifacts  []string
	Language   language.Language
	Discipline Discipline
}

type handler func(ctx context.Context, in Input) (*Verdict, error)

// Orchestrator dispatches discipline runs to their handlers.
// Handlers never retry; the feedback controller is the sole retry authority.
type Orchestrator struct {
	runner   executor.Runner
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	handlers map[Discipline]handler
}

// New creates a test orchestrator on top of the given executor.
func New(runner executor.Runner, cfg Config, logger *slog.Logger, tracer trace.Tracer) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	o := &Orchestrator{runner: runner, cfg: cfg, logger: logger, tracer: tracer}
	o.handlers = map[Discipline]handler{
		Basic:       o.runBasic,
		Unit:        o.runUnit,
		Integration: o.runIntegration,
		Performance: o.runPerformance,
		Coverage:    o.runCoverage,
		Security:    o.runSecurity,
	}
	return o
}

// Run applies the requested discipline to the input and returns a verdict.
// Executor-level errors (setup failures, backend trouble) come back as an
// Error verdict, never as a bare Go error, so the retry layer can treat
// them uniformly.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Verdict, error) {
	ctx, span := o.tracer.Start(ctx, "tester.run",
		trace.WithAttributes(
			attribute.String("subtask_id", in.SubtaskID),
			attribute.String("discipline", string(in.Discipline)),
			attribute.String("language", string(in.Language)),
		))
	defer span.End()

	h, ok := o.handlers[in.Discipline]
	if !ok {
		return nil, fmt.Errorf("unknown test discipline %q", in.Discipline)
	}

	o.logger.Info("discipline run starting",
		slog.String("subtask_id", in.SubtaskID),
		slog.String("discipline", string(in.Discipline)),
		slog.String("language", string(in.Language)),
	)

	verdict, err := h(ctx, in)
	if err != nil {
		// Setup/backend failures become Error verdicts.
		verdict = o.newVerdict(in, StatusError, Metric{}, err.Error(), nil)
	}

	span.SetAttributes(attribute.String("status", string(verdict.Status)))
	o.logger.Info("discipline run finished",
		slog.String("subtask_id", in.SubtaskID),
		slog.String("discipline", string(in.Discipline)),
		slog.String("status", string(verdict.Status)),
	)
	return verdict, nil
}

// runBasic performs a single execution; passed iff exit success and no
// timeout.
func (o *Orchestrator) runBasic(ctx context.Context, in Input) (*Verdict, error) {
	outcome, err := o.runner.Run(ctx, o.request(in, in.Code))
	if err != nil {
		return nil, err
	}
	status, msg := o.classify(outcome)
	return o.newVerdict(in, status, durationMetric(outcome), msg, outcome), nil
}

// request builds the executor request shared by the simple handlers.
func (o *Orchestrator) request(in Input, source string) executor.Request {
	return executor.Request{
		Source:   source,
		Language: in.Language,
		Timeout:  o.cfg.Timeout,
		Limits:   o.cfg.Limits,
	}
}

// classify maps a raw outcome to a verdict status and message. The order
// matters: a timeout is always Failed, never Error, even if a runner also
// flags the compile step; a compile error bypasses every other
// interpretation.
func (o *Orchestrator) classify(outcome *executor.Outcome) (Status, string) {
	switch {
	case outcome.TimedOut:
		return StatusFailed, fmt.Sprintf("execution timed out after %s", outcome.Duration.Round(time.Millisecond))
	case outcome.CompileError:
		return StatusError, "compile error: " + headline(outcome.Stderr)
	case outcome.ExitCode != 0:
		msg := headline(outcome.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exited with status %d", outcome.ExitCode)
		}
		return StatusFailed, msg
	}
	return StatusPassed, ""
}

func (o *Orchestrator) newVerdict(in Input, status Status, metric Metric, msg string, outcome *executor.Outcome) *Verdict {
	return &Verdict{
		ID:         uuid.New(),
		SubtaskID:  in.SubtaskID,
		Discipline: in.Discipline,
		Status:     status,
		Metric:     metric,
		Message:    msg,
		Outcome:    outcome,
	}
}

func durationMetric(outcome *executor.Outcome) Metric {
	return Metric{Kind: MetricDurationMS, Value: float64(outcome.Duration.Milliseconds())}
}

// headline trims output to a message-sized excerpt: the last non-empty
// lines, capped in length. Interpreter tracebacks put the useful part last.
func headline(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	const maxLen = 500
	if len(s) > maxLen {
		s = "…" + s[len(s)-maxLen:]
	}
	return s
}
