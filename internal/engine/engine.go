// Package engine runs a task's subtasks through the discipline pipeline
// with bounded concurrency and assembles the run report.
package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/fundi/internal/language"
	"github.com/jkaninda/fundi/internal/observability"
	"github.com/jkaninda/fundi/internal/report"
	"github.com/jkaninda/fundi/internal/tester"
)

const defaultConcurrency = 4

// Attempter runs one subtask to its final verdict, including any retries.
// feedback.Controller is the production implementation.
type Attempter interface {
	Attempt(ctx context.Context, in tester.Input) (*tester.Verdict, error)
}

// Options configures an Engine.
type Options struct {
	Concurrency int  // Max subtasks in flight. Default: 4.
	Degraded    bool // Environment fell back to the process sandbox.

	Metrics *observability.MetricsCollector // nil = no metrics.
	Store   *report.Store                   // nil = no persistence.
	Logger  *slog.Logger
}

// Engine dispatches subtasks to workers and aggregates verdicts in
// submission order.
type Engine struct {
	attempter   Attempter
	concurrency int
	degraded    bool
	metrics     *observability.MetricsCollector
	store       *report.Store
	logger      *slog.Logger
}

func New(attempter Attempter, opts Options) *Engine {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		attempter:   attempter,
		concurrency: concurrency,
		degraded:    opts.Degraded,
		metrics:     opts.Metrics,
		store:       opts.Store,
		logger:      logger,
	}
}

// Run evaluates every subtask of the task and returns the assembled report.
// Subtask failures are verdicts, not errors; the returned error covers run
// infrastructure only.
func (e *Engine) Run(ctx context.Context, task *Task) (*report.Report, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New()
	startedAt := time.Now().UTC()

	e.logger.Info("run started",
		slog.String("run_id", runID.String()),
		slog.String("task_id", task.ID),
		slog.Int("subtasks", len(task.Subtasks)),
		slog.Int("concurrency", e.concurrency),
		slog.Bool("degraded", e.degraded),
	)
	if e.metrics != nil {
		if e.degraded {
			e.metrics.DegradedMode.Set(1)
		} else {
			e.metrics.DegradedMode.Set(0)
		}
	}

	codeByID := make(map[string]string, len(task.Subtasks))
	for _, st := range task.Subtasks {
		codeByID[st.ID] = st.Code
	}

	agg := report.NewAggregator(task.SubtaskIDs())
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	for i := range task.Subtasks {
		st := task.Subtasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{} // Acquire slot.
			defer func() { <-sem }()

			verdict := e.runSubtask(ctx, st, codeByID)
			agg.Add(st.Description, verdict)
			e.recordVerdict(verdict)
		}()
	}
	wg.Wait()

	rep := agg.Build(runID, task.ID, task.Description, startedAt)
	rep.Degraded = e.degraded

	if e.store != nil {
		if err := e.store.SaveReport(ctx, rep); err != nil {
			e.logger.Warn("failed to persist report",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Info("run finished",
		slog.String("run_id", runID.String()),
		slog.Bool("passed", rep.Passed),
		slog.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}

func (e *Engine) runSubtask(ctx context.Context, st Subtask, codeByID map[string]string) *tester.Verdict {
	lang, err := language.Parse(st.Language)
	if err != nil {
		return errorVerdict(st, err)
	}
	discipline, err := tester.ParseDiscipline(st.Discipline)
	if err != nil {
		return errorVerdict(st, err)
	}

	artifacts := make([]string, 0, len(st.Artifacts))
	for _, ref := range st.Artifacts {
		artifacts = append(artifacts, codeByID[ref])
	}

	verdict, err := e.attempter.Attempt(ctx, tester.Input{
		SubtaskID:  st.ID,
		Code:       st.Code,
		TestCode:   st.TestCode,
		Artifacts:  artifacts,
		Language:   lang,
		Discipline: discipline,
	})
	if err != nil {
		e.logger.Error("subtask attempt failed",
			slog.String("subtask_id", st.ID),
			slog.String("error", err.Error()),
		)
		return errorVerdict(st, err)
	}
	return verdict
}

func (e *Engine) recordVerdict(v *tester.Verdict) {
	if e.metrics == nil {
		return
	}
	e.metrics.VerdictsTotal.WithLabelValues(string(v.Discipline), string(v.Status)).Inc()
	if v.Attempts > 1 {
		e.metrics.RetriesTotal.Add(float64(v.Attempts - 1))
	}
}

// errorVerdict marks a subtask that never reached a discipline run.
func errorVerdict(st Subtask, err error) *tester.Verdict {
	return &tester.Verdict{
		ID:         uuid.New(),
		SubtaskID:  st.ID,
		Discipline: tester.Discipline(st.Discipline),
		Status:     tester.StatusError,
		Message:    err.Error(),
		Attempts:   1,
	}
}
