// Package feedback drives the fix-and-retry loop: failed verdicts are
// forwarded to the external developer collaborator for a revised artifact
// and re-tested, bounded to a maximum attempt count. This package is the
// sole retry authority — discipline handlers never retry internally.
package feedback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jkaninda/fundi/internal/tester"
)

// DefaultMaxRetries is the retry bound after the initial attempt:
// 2 retries, 3 total attempts.
const DefaultMaxRetries = 2

// Developer is the external collaborator that produces revised code from
// a failure description. Implementations live outside this core.
type Developer interface {
	Revise(ctx context.Context, req RevisionRequest) (string, error)
}

// RevisionRequest carries the failure detail a developer needs to fix an
// artifact.
type RevisionRequest struct {
	SubtaskID      string
	FailureMessage string
	Discipline     tester.Discipline
	PriorCode      string
}

// RetryState tracks a failing subtask across attempts. Entries are
// discarded once the subtask passes or the attempt budget is spent.
type RetryState struct {
	SubtaskID   string
	Attempts    int
	LastFailure string
}

// Controller runs the attempt loop for one subtask at a time. Concurrent
// subtasks each own a disjoint retry entry; the state map is guarded for
// safe concurrent access.
type Controller struct {
	orch       *tester.Orchestrator
	dev        Developer // nil = no revision source, single attempt.
	maxRetries int
	logger     *slog.Logger

	mu     sync.Mutex
	states map[string]*RetryState
}

// NewController creates a feedback controller. maxRetries < 0 selects the
// default bound; 0 is honored as a single attempt with no revisions.
func NewController(orch *tester.Orchestrator, dev Developer, maxRetries int, logger *slog.Logger) *Controller {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		orch:       orch,
		dev:        dev,
		maxRetries: maxRetries,
		logger:     logger,
		states:     make(map[string]*RetryState),
	}
}

// Attempt tests the subtask's artifact, requesting revisions on failure
// until it passes or the attempt budget (1 initial + maxRetries) is spent.
// The returned verdict is final for the subtask; its Attempts field carries
// the total attempt count so callers can tell a first-try pass from an
// exhausted retry loop. Error verdicts are retried exactly like Failed ones
// but keep their classification in the result.
func (c *Controller) Attempt(ctx context.Context, in tester.Input) (*tester.Verdict, error) {
	maxAttempts := c.maxRetries + 1

	var verdict *tester.Verdict
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := c.orch.Run(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("attempt %d: %w", attempt, err)
		}
		v.Attempts = attempt
		verdict = v

		if v.Passed() {
			c.clearState(in.SubtaskID)
			return v, nil
		}

		c.recordFailure(in.SubtaskID, attempt, v.Message)
		c.logger.Info("subtask attempt failed",
			slog.String("subtask_id", in.SubtaskID),
			slog.String("discipline", string(in.Discipline)),
			slog.String("status", string(v.Status)),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
		)

		if attempt == maxAttempts {
			break
		}

		revised, err := c.requestRevision(ctx, in, v)
		if err != nil {
			c.logger.Warn("revision request failed, returning last verdict",
				slog.String("subtask_id", in.SubtaskID),
				slog.String("error", err.Error()),
			)
			break
		}
		in.Code = revised
	}

	c.clearState(in.SubtaskID)
	return verdict, nil
}

// requestRevision forwards the failure to the developer collaborator.
func (c *Controller) requestRevision(ctx context.Context, in tester.Input, v *tester.Verdict) (string, error) {
	if c.dev == nil {
		return "", fmt.Errorf("no developer collaborator configured")
	}
	revised, err := c.dev.Revise(ctx, RevisionRequest{
		SubtaskID:      in.SubtaskID,
		FailureMessage: v.Message,
		Discipline:     in.Discipline,
		PriorCode:      in.Code,
	})
	if err != nil {
		return "", fmt.Errorf("developer revision: %w", err)
	}
	if revised == "" {
		return "", fmt.Errorf("developer returned empty revision")
	}
	return revised, nil
}

func (c *Controller) recordFailure(subtaskID string, attempt int, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[subtaskID]
	if !ok {
		st = &RetryState{SubtaskID: subtaskID}
		c.states[subtaskID] = st
	}
	st.Attempts = attempt
	st.LastFailure = msg
}

func (c *Controller) clearState(subtaskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, subtaskID)
}

// state returns a copy of the retry entry, for tests.
func (c *Controller) state(subtaskID string) (RetryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[subtaskID]
	if !ok {
		return RetryState{}, false
	}
	return *st, true
}
