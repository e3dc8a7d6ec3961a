package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jkaninda/fundi/internal/language"
	"github.com/jkaninda/fundi/internal/tester"
)

// Task is one submitted job: a set of subtasks evaluated in a single run.
type Task struct {
	ID          string    `json:"id" yaml:"id"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Subtasks    []Subtask `json:"subtasks" yaml:"subtasks"`
}

// Subtask is one code artifact plus the discipline it is judged under.
type Subtask struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Language    string `json:"language" yaml:"language"`
	Discipline  string `json:"discipline" yaml:"discipline"`

	// Code is the source inline; CodeFile loads it from a path relative to
	// the task file. Exactly one must be set.
	Code     string `json:"code,omitempty" yaml:"code,omitempty"`
	CodeFile string `json:"code_file,omitempty" yaml:"code_file,omitempty"`

	// TestCode is caller-provided test source for the unit discipline.
	TestCode     string `json:"test_code,omitempty" yaml:"test_code,omitempty"`
	TestCodeFile string `json:"test_code_file,omitempty" yaml:"test_code_file,omitempty"`

	// Artifacts name earlier subtasks whose code the integration discipline
	// composes into the scenario, in order.
	Artifacts []string `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// LoadTaskFile reads a YAML or JSON task definition and validates it.
// The format is detected by file extension, matching config loading.
func LoadTaskFile(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file %s: %w", path, err)
	}

	var task Task
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("parsing YAML task file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("parsing JSON task file %s: %w", path, err)
		}
	}

	if err := task.resolveFiles(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}
	return &task, nil
}

// resolveFiles loads code_file / test_code_file contents relative to the
// task file directory.
func (t *Task) resolveFiles(baseDir string) error {
	for i := range t.Subtasks {
		st := &t.Subtasks[i]
		if st.CodeFile != "" {
			data, err := os.ReadFile(filepath.Join(baseDir, st.CodeFile))
			if err != nil {
				return fmt.Errorf("subtask %s: reading code file: %w", st.ID, err)
			}
			st.Code = string(data)
		}
		if st.TestCodeFile != "" {
			data, err := os.ReadFile(filepath.Join(baseDir, st.TestCodeFile))
			if err != nil {
				return fmt.Errorf("subtask %s: reading test code file: %w", st.ID, err)
			}
			st.TestCode = string(data)
		}
	}
	return nil
}

// Validate checks structural soundness: IDs, languages, disciplines, and
// artifact references.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if len(t.Subtasks) == 0 {
		return fmt.Errorf("task must contain at least one subtask")
	}

	seen := make(map[string]bool, len(t.Subtasks))
	for i, st := range t.Subtasks {
		if st.ID == "" {
			return fmt.Errorf("subtasks[%d].id is required", i)
		}
		if seen[st.ID] {
			return fmt.Errorf("subtasks[%d]: duplicate id %q", i, st.ID)
		}
		seen[st.ID] = true
		if st.Code == "" && st.CodeFile == "" {
			return fmt.Errorf("subtask %s: code or code_file is required", st.ID)
		}
		if _, err := language.Parse(st.Language); err != nil {
			return fmt.Errorf("subtask %s: %w", st.ID, err)
		}
		if _, err := tester.ParseDiscipline(st.Discipline); err != nil {
			return fmt.Errorf("subtask %s: %w", st.ID, err)
		}
	}
	for _, st := range t.Subtasks {
		for _, ref := range st.Artifacts {
			if !seen[ref] {
				return fmt.Errorf("subtask %s: artifact reference %q names no subtask", st.ID, ref)
			}
			if ref == st.ID {
				return fmt.Errorf("subtask %s: artifact reference to itself", st.ID)
			}
		}
	}
	return nil
}

// SubtaskIDs returns the IDs in declared order.
func (t *Task) SubtaskIDs() []string {
	ids := make([]string, 0, len(t.Subtasks))
	for _, st := range t.Subtasks {
		ids = append(ids, st.ID)
	}
	return ids
}
