package tester

import (
	"context"
	"strings"

	"github.com/jkaninda/fundi/internal/language"
)

// runIntegration executes a composed scenario: the subtask's prior
// artifacts plus the scenario code as one unit. Passed iff the composed
// scenario exits successfully.
func (o *Orchestrator) runIntegration(ctx context.Context, in Input) (*Verdict, error) {
	source := composeScenario(in)

	outcome, err := o.runner.Run(ctx, o.request(in, source))
	if err != nil {
		return nil, err
	}
	status, msg := o.classify(outcome)
	return o.newVerdict(in, status, durationMetric(outcome), msg, outcome), nil
}

// composeScenario concatenates artifacts ahead of the scenario code for
// interpreted languages, where top-level definitions compose naturally.
// Compiled languages run the scenario alone: their artifacts must already
// be self-contained.
func composeScenario(in Input) string {
	if len(in.Artifacts) == 0 {
		return in.Code
	}
	switch in.Language {
	case language.Python, language.JavaScript:
		parts := make([]string, 0, len(in.Artifacts)+1)
		parts = append(parts, in.Artifacts...)
		parts = append(parts, in.Code)
		return strings.Join(parts, "\n\n")
	}
	return in.Code
}
