package tester

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jkaninda/fundi/internal/language"
)

// Severity ranks security findings.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return "unknown"
}

// ParseSeverity maps a severity name to its rank. Empty input reports an
// error; callers decide their own default.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Finding is one security anti-pattern match, located in the source.
type Finding struct {
	Pattern  string
	Line     int
	Severity Severity
	Snippet  string
}

type securityPattern struct {
	name     string
	re       *regexp.Regexp
	severity Severity
	// languages restricts the pattern; nil = applies to every language.
	languages []language.Language
}

// securityPatterns is the static anti-pattern catalog, scanned over the
// source before any execution.
var securityPatterns = []securityPattern{
	{
		name:      "eval usage",
		re:        regexp.MustCompile(`\beval\s*\(`),
		severity:  SeverityHigh,
		languages: []language.Language{language.Python, language.JavaScript},
	},
	{
		name:      "exec usage",
		re:        regexp.MustCompile(`\bexec\s*\(`),
		severity:  SeverityHigh,
		languages: []language.Language{language.Python},
	},
	{
		name:      "dynamic function constructor",
		re:        regexp.MustCompile(`\bnew\s+Function\s*\(`),
		severity:  SeverityHigh,
		languages: []language.Language{language.JavaScript},
	},
	{
		name:     "hardcoded credential",
		// No \b before the keyword: names like db_password keep the match
		// inside one identifier (_ is a word character).
		re:       regexp.MustCompile(`(?i)[a-z0-9_]*(password|passwd|secret|api_key|apikey|token|access_key)\s*[:=]\s*["'][^"']+["']`),
		severity: SeverityHigh,
	},
	{
		name:     "unsafe query construction",
		// The literal may embed the other quote kind, as in
		// "… name = '" + name, so anything goes between keyword and the
		// closing quote.
		re:       regexp.MustCompile(`(?i)["'][^"']*\b(select|insert|update|delete)\b.*["']\s*(\+|%|\.format\()`),
		severity: SeverityMedium,
	},
	{
		name:      "shell command execution",
		re:        regexp.MustCompile(`os\.system\s*\(|shell\s*=\s*True`),
		severity:  SeverityHigh,
		languages: []language.Language{language.Python},
	},
	{
		name:      "pickle deserialization",
		re:        regexp.MustCompile(`pickle\.loads?\s*\(`),
		severity:  SeverityMedium,
		languages: []language.Language{language.Python},
	},
}

// runSecurity scans the source for known anti-patterns, then performs the
// standard execution. Passed iff there are zero findings at or above the
// severity floor and the execution itself succeeds.
func (o *Orchestrator) runSecurity(ctx context.Context, in Input) (*Verdict, error) {
	findings := ScanSource(in.Code, in.Language)
	relevant := findings[:0:0]
	for _, f := range findings {
		if f.Severity >= o.cfg.severityFloor() {
			relevant = append(relevant, f)
		}
	}

	outcome, err := o.runner.Run(ctx, o.request(in, in.Code))
	if err != nil {
		return nil, err
	}

	status, msg := o.classify(outcome)
	metric := Metric{Kind: MetricFindings, Value: float64(len(relevant))}

	if len(relevant) > 0 {
		// A compile error still bypasses interpretation as StatusError, but
		// findings take precedence over a plain runtime failure.
		if status != StatusError {
			status = StatusFailed
		}
		msg = describeFindings(relevant)
	}
	return o.newVerdict(in, status, metric, msg, outcome), nil
}

// ScanSource matches the anti-pattern catalog against each source line.
func ScanSource(code string, lang language.Language) []Finding {
	var findings []Finding
	for lineNo, line := range strings.Split(code, "\n") {
		for _, p := range securityPatterns {
			if !p.appliesTo(lang) {
				continue
			}
			if p.re.MatchString(line) {
				findings = append(findings, Finding{
					Pattern:  p.name,
					Line:     lineNo + 1,
					Severity: p.severity,
					Snippet:  strings.TrimSpace(line),
				})
			}
		}
	}
	return findings
}

func (p securityPattern) appliesTo(lang language.Language) bool {
	if p.languages == nil {
		return true
	}
	for _, l := range p.languages {
		if l == lang {
			return true
		}
	}
	return false
}

// describeFindings enumerates findings with location and pattern name.
func describeFindings(findings []Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d security finding(s):", len(findings))
	for _, f := range findings {
		fmt.Fprintf(&b, "\n  line %d: %s (%s): %s", f.Line, f.Pattern, f.Severity, f.Snippet)
	}
	return b.String()
}
