package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/fundi/internal/tester"
)

// countingAttempter records concurrency and returns scripted statuses.
type countingAttempter struct {
	mu       sync.Mutex
	active   int
	peak     int
	inputs   []tester.Input
	statuses map[string]tester.Status // by subtask ID; default passed.
	delay    time.Duration
}

func (a *countingAttempter) Attempt(_ context.Context, in tester.Input) (*tester.Verdict, error) {
	a.mu.Lock()
	a.active++
	if a.active > a.peak {
		a.peak = a.active
	}
	a.inputs = append(a.inputs, in)
	a.mu.Unlock()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	a.mu.Lock()
	a.active--
	status, ok := a.statuses[in.SubtaskID]
	a.mu.Unlock()
	if !ok {
		status = tester.StatusPassed
	}
	return &tester.Verdict{
		ID:         uuid.New(),
		SubtaskID:  in.SubtaskID,
		Discipline: in.Discipline,
		Status:     status,
		Attempts:   1,
	}, nil
}

func basicSubtask(id string) Subtask {
	return Subtask{
		ID:         id,
		Language:   "python",
		Discipline: "basic",
		Code:       "print('ok')",
	}
}

func TestRunEvaluatesEverySubtaskInOrder(t *testing.T) {
	task := &Task{
		ID: "task-1",
		Subtasks: []Subtask{
			basicSubtask("st-1"),
			basicSubtask("st-2"),
			basicSubtask("st-3"),
		},
	}
	attempter := &countingAttempter{}
	eng := New(attempter, Options{Concurrency: 2})

	rep, err := eng.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Subtasks) != 3 {
		t.Fatalf("got %d results, want 3", len(rep.Subtasks))
	}
	for i, id := range []string{"st-1", "st-2", "st-3"} {
		if rep.Subtasks[i].SubtaskID != id {
			t.Errorf("position %d: got %q, want %q", i, rep.Subtasks[i].SubtaskID, id)
		}
	}
	if !rep.Passed {
		t.Error("expected overall pass")
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	task := &Task{ID: "task-1"}
	for i := 0; i < 8; i++ {
		task.Subtasks = append(task.Subtasks, basicSubtask("st-"+string(rune('a'+i))))
	}
	attempter := &countingAttempter{delay: 20 * time.Millisecond}
	eng := New(attempter, Options{Concurrency: 2})

	if _, err := eng.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempter.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", attempter.peak)
	}
	if len(attempter.inputs) != 8 {
		t.Errorf("attempted %d subtasks, want 8", len(attempter.inputs))
	}
}

func TestRunFailedSubtaskFailsRun(t *testing.T) {
	task := &Task{
		ID:       "task-1",
		Subtasks: []Subtask{basicSubtask("st-1"), basicSubtask("st-2")},
	}
	attempter := &countingAttempter{statuses: map[string]tester.Status{"st-2": tester.StatusFailed}}
	eng := New(attempter, Options{})

	rep, err := eng.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Passed {
		t.Error("run passed despite a failed subtask")
	}
	if rep.Subtasks[0].Status != tester.StatusPassed {
		t.Errorf("st-1 status = %q", rep.Subtasks[0].Status)
	}
}

func TestRunResolvesArtifactReferences(t *testing.T) {
	helper := basicSubtask("st-lib")
	helper.Code = "def add(a, b):\n    return a + b\n"
	scenario := Subtask{
		ID:         "st-scenario",
		Language:   "python",
		Discipline: "integration",
		Code:       "print(add(2, 3))",
		Artifacts:  []string{"st-lib"},
	}
	task := &Task{ID: "task-1", Subtasks: []Subtask{helper, scenario}}

	attempter := &countingAttempter{}
	eng := New(attempter, Options{Concurrency: 1})
	if _, err := eng.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got tester.Input
	for _, in := range attempter.inputs {
		if in.SubtaskID == "st-scenario" {
			got = in
		}
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0] != helper.Code {
		t.Errorf("artifacts not resolved: %+v", got.Artifacts)
	}
}

func TestRunRejectsInvalidTask(t *testing.T) {
	eng := New(&countingAttempter{}, Options{})
	if _, err := eng.Run(context.Background(), &Task{ID: "task-1"}); err == nil {
		t.Fatal("expected validation error for task without subtasks")
	}
}

// --- Task file loading ---

func TestLoadTaskFileYAML(t *testing.T) {
	dir := t.TempDir()
	codePath := filepath.Join(dir, "solution.py")
	if err := os.WriteFile(codePath, []byte("print('hello')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	taskPath := filepath.Join(dir, "task.yaml")
	content := `
id: task-99
description: sample task
subtasks:
  - id: st-1
    language: python
    discipline: basic
    code_file: solution.py
  - id: st-2
    language: javascript
    discipline: security
    code: "console.log('hi')"
`
	if err := os.WriteFile(taskPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	task, err := LoadTaskFile(taskPath)
	if err != nil {
		t.Fatalf("LoadTaskFile: %v", err)
	}
	if task.ID != "task-99" || len(task.Subtasks) != 2 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Subtasks[0].Code != "print('hello')\n" {
		t.Errorf("code_file not resolved: %q", task.Subtasks[0].Code)
	}
}

func TestTaskValidation(t *testing.T) {
	valid := basicSubtask("st-1")
	cases := []struct {
		name string
		task Task
	}{
		{"empty id", Task{Subtasks: []Subtask{valid}}},
		{"no subtasks", Task{ID: "t"}},
		{"duplicate subtask ids", Task{ID: "t", Subtasks: []Subtask{valid, valid}}},
		{"missing code", Task{ID: "t", Subtasks: []Subtask{{ID: "st-1", Language: "python", Discipline: "basic"}}}},
		{"unknown language", Task{ID: "t", Subtasks: []Subtask{{ID: "st-1", Language: "cobol", Discipline: "basic", Code: "x"}}}},
		{"unknown discipline", Task{ID: "t", Subtasks: []Subtask{{ID: "st-1", Language: "python", Discipline: "vibes", Code: "x"}}}},
		{"dangling artifact ref", Task{ID: "t", Subtasks: []Subtask{{ID: "st-1", Language: "python", Discipline: "basic", Code: "x", Artifacts: []string{"st-9"}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.task.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
