// Package report assembles per-subtask verdicts into the run-level result
// structure and persists it for external consumers (CLI, billing). The
// aggregator preserves subtask submission order regardless of completion
// order.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/fundi/internal/tester"
)

// Report is the durable result of one task run.
type Report struct {
	RunID       uuid.UUID        `json:"run_id"`
	TaskID      string           `json:"task_id"`
	Description string           `json:"description,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Passed      bool             `json:"passed"`
	Degraded    bool             `json:"degraded,omitempty"` // Run used the subprocess fallback backend.
	Subtasks    []SubtaskResult  `json:"subtasks"`
}

// SubtaskResult is one subtask's final verdict in the report.
type SubtaskResult struct {
	SubtaskID   string            `json:"subtask_id"`
	Description string            `json:"description,omitempty"`
	Discipline  tester.Discipline `json:"discipline"`
	Status      tester.Status     `json:"status"`
	Metric      tester.Metric     `json:"metric,omitempty"`
	Message     string            `json:"message,omitempty"`
	Attempts    int               `json:"attempts"`
}

// Aggregator collects verdicts for a single run. Register fixes the
// submission order up front; Add may then be called from any worker in
// any order.
type Aggregator struct {
	mu      sync.Mutex
	order   []string
	pending map[string]SubtaskResult
}

// NewAggregator creates an aggregator with the submission order fixed to
// the given subtask IDs.
func NewAggregator(subtaskIDs []string) *Aggregator {
	return &Aggregator{
		order:   append([]string(nil), subtaskIDs...),
		pending: make(map[string]SubtaskResult, len(subtaskIDs)),
	}
}

// Add records a subtask's final verdict. Safe for concurrent use.
func (a *Aggregator) Add(description string, v *tester.Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[v.SubtaskID] = SubtaskResult{
		SubtaskID:   v.SubtaskID,
		Description: description,
		Discipline:  v.Discipline,
		Status:      v.Status,
		Metric:      v.Metric,
		Message:     v.Message,
		Attempts:    v.Attempts,
	}
}

// Build assembles the report in submission order. Subtasks with no verdict
// (cancelled mid-run) come out as Error entries so the report stays
// complete.
func (a *Aggregator) Build(runID uuid.UUID, taskID, description string, startedAt time.Time) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	rep := &Report{
		RunID:       runID,
		TaskID:      taskID,
		Description: description,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		Passed:      true,
		Subtasks:    make([]SubtaskResult, 0, len(a.order)),
	}
	for _, id := range a.order {
		res, ok := a.pending[id]
		if !ok {
			res = SubtaskResult{SubtaskID: id, Status: tester.StatusError, Message: "no verdict produced"}
		}
		if res.Status != tester.StatusPassed {
			rep.Passed = false
		}
		rep.Subtasks = append(rep.Subtasks, res)
	}
	return rep
}

// WriteFile persists the report as pretty-printed JSON.
func WriteFile(path string, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	return nil
}
