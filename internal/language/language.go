// Package language defines the per-language recipes for turning generated
// source text into a runnable unit: file naming, an optional compile step,
// and the invocation command. Commands use paths relative to the unit's
// directory so the same recipe works under both isolation backends.
package language

import (
	"fmt"
	"os"
	"path/filepath"
)

// Language tags the supported languages. The set is closed: dispatch is by
// tag, never by inspecting source text.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	Java       Language = "java"
	CSharp     Language = "csharp"
)

// Parse resolves a language tag, accepting the common aliases the
// generating side tends to emit.
func Parse(s string) (Language, error) {
	switch s {
	case "python", "python3", "py":
		return Python, nil
	case "javascript", "js", "node":
		return JavaScript, nil
	case "java":
		return Java, nil
	case "csharp", "cs", "c#":
		return CSharp, nil
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// Unit is a materialized code artifact inside a workspace directory.
// It is single-use: the executor that created it discards the whole
// directory when the invocation completes.
type Unit struct {
	Language Language
	Dir      string // Host workspace directory owning the unit.
	File     string // Source file name, relative to Dir.
	Main     string // Entry symbol (Java class name) when relevant.
}

// Adapter is the per-language recipe.
type Adapter interface {
	Language() Language

	// Prepare writes source into dir and returns the unit.
	Prepare(dir, source string) (*Unit, error)

	// CompileCommand returns the compiler invocation for the unit, or nil
	// when the language is interpreted directly.
	CompileCommand(u *Unit) []string

	// RunCommand returns the invocation that executes the unit.
	RunCommand(u *Unit) []string

	// Image names the container image for the Docker backend.
	Image() string
}

var adapters = map[Language]Adapter{
	Python:     pythonAdapter{},
	JavaScript: javascriptAdapter{},
	Java:       javaAdapter{},
	CSharp:     csharpAdapter{},
}

// ForLanguage returns the adapter for a language tag.
func ForLanguage(lang Language) (Adapter, error) {
	a, ok := adapters[lang]
	if !ok {
		return nil, fmt.Errorf("no adapter for language %q", lang)
	}
	return a, nil
}

// writeSource materializes source under dir with permissions readable by
// the container's unprivileged user.
func writeSource(dir, name, source string) error {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
