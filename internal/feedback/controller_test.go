package feedback

import (
	"context"
	"errors"
	"testing"

	"github.com/jkaninda/fundi/internal/executor"
	"github.com/jkaninda/fundi/internal/language"
	"github.com/jkaninda/fundi/internal/tester"
)

// scriptedRunner returns outcomes in order, repeating the last one.
type scriptedRunner struct {
	outcomes []*executor.Outcome
	calls    int
}

func (s *scriptedRunner) Run(_ context.Context, _ executor.Request) (*executor.Outcome, error) {
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	return s.outcomes[i], nil
}

// recordingDeveloper returns canned revisions and records requests.
type recordingDeveloper struct {
	revisions []string
	requests  []RevisionRequest
	err       error
}

func (d *recordingDeveloper) Revise(_ context.Context, req RevisionRequest) (string, error) {
	d.requests = append(d.requests, req)
	if d.err != nil {
		return "", d.err
	}
	i := len(d.requests) - 1
	if i >= len(d.revisions) {
		i = len(d.revisions) - 1
	}
	return d.revisions[i], nil
}

func failing() *executor.Outcome {
	return &executor.Outcome{ExitCode: 1, Stderr: "AssertionError: broken"}
}

func passing() *executor.Outcome {
	return &executor.Outcome{ExitCode: 0}
}

func basicInput() tester.Input {
	return tester.Input{
		SubtaskID:  "s1",
		Code:       "print(x)",
		Language:   language.Python,
		Discipline: tester.Basic,
	}
}

func newController(r executor.Runner, dev Developer, maxRetries int) *Controller {
	orch := tester.New(r, tester.Config{}, nil, nil)
	return NewController(orch, dev, maxRetries, nil)
}

func TestAttempt_PassesFirstTry(t *testing.T) {
	runner := &scriptedRunner{outcomes: []*executor.Outcome{passing()}}
	dev := &recordingDeveloper{revisions: []string{"fixed"}}
	c := newController(runner, dev, 2)

	v, err := c.Attempt(context.Background(), basicInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Passed() {
		t.Fatalf("status = %q, want passed", v.Status)
	}
	if v.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", v.Attempts)
	}
	if len(dev.requests) != 0 {
		t.Errorf("developer consulted %d times on a passing first attempt", len(dev.requests))
	}
}

func TestAttempt_StopsAfterExactlyThreeAttempts(t *testing.T) {
	runner := &scriptedRunner{outcomes: []*executor.Outcome{failing()}}
	dev := &recordingDeveloper{revisions: []string{"rev1", "rev2", "rev3"}}
	c := newController(runner, dev, 2)

	v, err := c.Attempt(context.Background(), basicInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Passed() {
		t.Fatal("verdict passed, want terminal failure")
	}
	if runner.calls != 3 {
		t.Errorf("test runs = %d, want exactly 3 (1 initial + 2 retries)", runner.calls)
	}
	if v.Attempts != 3 {
		t.Errorf("verdict attempts = %d, want 3", v.Attempts)
	}
	// Two revisions requested, never a third after the final attempt.
	if len(dev.requests) != 2 {
		t.Errorf("revision requests = %d, want 2", len(dev.requests))
	}
}

func TestAttempt_PassesAfterRevision(t *testing.T) {
	runner := &scriptedRunner{outcomes: []*executor.Outcome{failing(), passing()}}
	dev := &recordingDeveloper{revisions: []string{"print('fixed')"}}
	c := newController(runner, dev, 2)

	v, err := c.Attempt(context.Background(), basicInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Passed() {
		t.Fatalf("status = %q, want passed after revision", v.Status)
	}
	if v.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", v.Attempts)
	}

	req := dev.requests[0]
	if req.SubtaskID != "s1" {
		t.Errorf("revision subtask = %q, want s1", req.SubtaskID)
	}
	if req.PriorCode != "print(x)" {
		t.Errorf("revision prior code = %q", req.PriorCode)
	}
	if req.FailureMessage == "" {
		t.Error("revision request missing failure message")
	}
	if req.Discipline != tester.Basic {
		t.Errorf("revision discipline = %q, want basic", req.Discipline)
	}
}

func TestAttempt_ErrorVerdictsRetriedAndDistinguishable(t *testing.T) {
	compileFail := &executor.Outcome{ExitCode: 1, CompileError: true, Stderr: "error: ';' expected"}
	runner := &scriptedRunner{outcomes: []*executor.Outcome{compileFail}}
	dev := &recordingDeveloper{revisions: []string{"rev"}}
	c := newController(runner, dev, 2)

	in := basicInput()
	in.Language = language.Java
	in.Code = "public class Main { int x = 1 }"

	v, err := c.Attempt(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.calls != 3 {
		t.Errorf("test runs = %d, want 3 (errors retried like failures)", runner.calls)
	}
	if v.Status != tester.StatusError {
		t.Errorf("final status = %q, want %q preserved in the report", v.Status, tester.StatusError)
	}
}

func TestNewController_RetryBounds(t *testing.T) {
	runner := &scriptedRunner{outcomes: []*executor.Outcome{failing()}}
	dev := &recordingDeveloper{revisions: []string{"rev"}}

	// Zero is a real bound: one attempt, developer never consulted.
	c := newController(runner, dev, 0)
	if v, err := c.Attempt(context.Background(), basicInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if v.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 with max_retries 0", v.Attempts)
	}
	if runner.calls != 1 {
		t.Errorf("test runs = %d, want 1 with max_retries 0", runner.calls)
	}
	if len(dev.requests) != 0 {
		t.Errorf("revision requests = %d, want 0 with max_retries 0", len(dev.requests))
	}

	// Negative means unset and falls back to the default bound.
	runner2 := &scriptedRunner{outcomes: []*executor.Outcome{failing()}}
	c2 := newController(runner2, dev, -1)
	if v, err := c2.Attempt(context.Background(), basicInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if want := DefaultMaxRetries + 1; v.Attempts != want {
		t.Errorf("attempts = %d, want %d for unset bound", v.Attempts, want)
	}
}

func TestAttempt_NoDeveloperMeansSingleAttempt(t *testing.T) {
	runner := &scriptedRunner{outcomes: []*executor.Outcome{failing()}}
	c := newController(runner, nil, 2)

	v, err := c.Attempt(context.Background(), basicInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("test runs = %d, want 1 without a revision source", runner.calls)
	}
	if v.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", v.Attempts)
	}
}

func TestAttempt_DeveloperErrorReturnsLastVerdict(t *testing.T) {
	runner := &scriptedRunner{outcomes: []*executor.Outcome{failing()}}
	dev := &recordingDeveloper{err: errors.New("model unavailable")}
	c := newController(runner, dev, 2)

	v, err := c.Attempt(context.Background(), basicInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil || v.Passed() {
		t.Fatal("want the last failing verdict")
	}
	if runner.calls != 1 {
		t.Errorf("test runs = %d, want 1 when revision cannot be produced", runner.calls)
	}
}

func TestAttempt_RetryStateDiscarded(t *testing.T) {
	runner := &scriptedRunner{outcomes: []*executor.Outcome{failing(), passing()}}
	dev := &recordingDeveloper{revisions: []string{"fixed"}}
	c := newController(runner, dev, 2)

	if _, err := c.Attempt(context.Background(), basicInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.state("s1"); ok {
		t.Error("retry state survived a passing subtask")
	}

	// Exhausted loop also clears its entry.
	runner2 := &scriptedRunner{outcomes: []*executor.Outcome{failing()}}
	c2 := newController(runner2, dev, 1)
	if _, err := c2.Attempt(context.Background(), basicInput()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c2.state("s1"); ok {
		t.Error("retry state survived an exhausted subtask")
	}
}
