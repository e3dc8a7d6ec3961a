package tester

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jkaninda/fundi/internal/language"
)

// coverageMarker prefixes the harness's machine-readable result line.
const coverageMarker = "FUNDI_COVERAGE"

// coverageRunner traces the artifact's line execution: statement lines
// from the AST form the denominator, traced lines the numerator. It prints
// "FUNDI_COVERAGE <covered> <total>" as its last stdout line.
const coverageRunner = `import ast
import runpy
import trace

TARGET = "main.py"

with open(TARGET) as f:
    src = f.read()
tree = ast.parse(src)
executable = {node.lineno for node in ast.walk(tree) if isinstance(node, ast.stmt)}

tracer = trace.Trace(count=1, trace=0)
try:
    tracer.runctx("runpy.run_path(TARGET, run_name='__main__')",
                  {"runpy": runpy, "TARGET": TARGET}, {})
except SystemExit:
    pass

counts = tracer.results().counts
covered = {line for (fname, line), hits in counts.items()
           if fname.endswith(TARGET) and hits > 0}
covered &= executable
print("` + coverageMarker + ` %d %d" % (len(covered), len(executable)))
`

// runCoverage executes an instrumented run and reports the covered/total
// line ratio. The ratio is always reported when measurable, regardless of
// pass/fail.
func (o *Orchestrator) runCoverage(ctx context.Context, in Input) (*Verdict, error) {
	if in.Language != language.Python {
		return o.newVerdict(in, StatusError, Metric{},
			fmt.Sprintf("coverage measurement not supported for language %q", in.Language), nil), nil
	}

	req := o.request(in, in.Code)
	req.ExtraFiles = map[string]string{"coverage_runner.py": coverageRunner}
	req.Command = []string{"python3", "coverage_runner.py"}

	outcome, err := o.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	status, msg := o.classify(outcome)
	covered, total, ok := parseCoverage(outcome.Stdout)
	if status != StatusPassed {
		metric := Metric{}
		if ok && total > 0 {
			metric = coverageMetric(covered, total)
		}
		return o.newVerdict(in, status, metric, msg, outcome), nil
	}
	if !ok || total == 0 {
		return o.newVerdict(in, StatusError, Metric{},
			"coverage run produced no measurement", outcome), nil
	}

	pct := 100 * float64(covered) / float64(total)
	msg = fmt.Sprintf("coverage %.1f%% (%d of %d lines)", pct, covered, total)
	if pct < o.cfg.coverageMin() {
		status = StatusFailed
		msg += fmt.Sprintf(", below threshold %.1f%%", o.cfg.coverageMin())
	}
	return o.newVerdict(in, status, coverageMetric(covered, total), msg, outcome), nil
}

func coverageMetric(covered, total int) Metric {
	return Metric{Kind: MetricCoveragePct, Value: 100 * float64(covered) / float64(total)}
}

// parseCoverage extracts the last marker line from harness stdout.
func parseCoverage(stdout string) (covered, total int, ok bool) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Fields(lines[i])
		if len(fields) != 3 || fields[0] != coverageMarker {
			continue
		}
		c, err1 := strconv.Atoi(fields[1])
		t, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return c, t, true
	}
	return 0, 0, false
}
