package tester

import (
	"context"
	"fmt"
	"strings"

	"github.com/jkaninda/fundi/internal/language"
)

// runUnit wraps the artifact in a generated test harness and executes it.
// Caller-provided test code is preferred; otherwise a smoke harness is
// synthesized. Failure messages enumerate the failing assertions.
func (o *Orchestrator) runUnit(ctx context.Context, in Input) (*Verdict, error) {
	harness, err := unitHarness(in)
	if err != nil {
		// Unsupported language: a distinct Error verdict, never a silent pass
		// and never a runtime failure attributed to the code under test.
		return o.newVerdict(in, StatusError, Metric{}, err.Error(), nil), nil
	}

	outcome, runErr := o.runner.Run(ctx, o.request(in, harness))
	if runErr != nil {
		return nil, runErr
	}

	status, msg := o.classify(outcome)
	if status == StatusFailed && !outcome.TimedOut {
		if failures := assertionFailures(outcome.Stderr); len(failures) > 0 {
			msg = "failing assertions:\n" + strings.Join(failures, "\n")
		}
	}
	return o.newVerdict(in, status, durationMetric(outcome), msg, outcome), nil
}

// unitHarness builds the per-language test wrapper around the artifact.
func unitHarness(in Input) (string, error) {
	switch in.Language {
	case language.Python:
		return pythonUnitHarness(in.Code, in.TestCode), nil
	case language.JavaScript:
		return javascriptUnitHarness(in.Code, in.TestCode), nil
	}
	return "", fmt.Errorf("unit testing not supported for language %q", in.Language)
}

func pythonUnitHarness(code, testCode string) string {
	if testCode == "" {
		// Module-level code has already run by the time the smoke test
		// executes; reaching it means no exception was raised.
		testCode = `class GeneratedSmokeTest(unittest.TestCase):
    def test_module_executes_without_error(self):
        self.assertTrue(True)`
	}
	var b strings.Builder
	b.WriteString(code)
	b.WriteString("\n\nimport unittest\n\n")
	b.WriteString(testCode)
	b.WriteString("\n\nif __name__ == '__main__':\n    unittest.main(verbosity=2)\n")
	return b.String()
}

func javascriptUnitHarness(code, testCode string) string {
	if testCode == "" {
		testCode = "// module executed without throwing\nassert.ok(true);"
	}
	var b strings.Builder
	b.WriteString("const assert = require('node:assert');\n\n")
	b.WriteString(code)
	b.WriteString("\n\n")
	b.WriteString(testCode)
	b.WriteString("\nconsole.log('all assertions passed');\n")
	return b.String()
}

// assertionFailures extracts the failing-assertion lines from test output
// so the revision request can name what broke.
func assertionFailures(stderr string) []string {
	var failures []string
	for _, line := range strings.Split(stderr, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "FAIL:"),
			strings.HasPrefix(trimmed, "ERROR:"),
			strings.Contains(trimmed, "AssertionError"):
			failures = append(failures, trimmed)
		}
	}
	return failures
}
