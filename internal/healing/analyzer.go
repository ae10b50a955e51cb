// Package healing implements the bounded self-healing pipeline: CI
// failure diagnosis, safety-gated fix planning, and the attempt/session
// state machine.
package healing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/navihq/recovery-core/internal/domain"
)

// detector matches one failure category against CI log text.
// Confidence and severity are calibrated per category, not per match.
type detector struct {
	category   domain.FailureCategory
	patterns   []string
	confidence float64
	severity   domain.Severity
	fixHint    string
}

// detectors run in declared order; results preserve this order, not log
// position. All detectors are independent and may all match.
var detectors = []detector{
	{
		category:   domain.FailureSyntax,
		patterns:   []string{"syntaxerror", "syntax error", "parse error", "unexpected token", "invalid syntax"},
		confidence: 0.9,
		severity:   domain.SeverityHigh,
		fixHint:    "correct the syntax at the reported location",
	},
	{
		category:   domain.FailureLint,
		patterns:   []string{"eslint", "pylint", "flake8", "golangci-lint", "lint error", "missing semicolon"},
		confidence: 0.85,
		severity:   domain.SeverityLow,
		fixHint:    "apply the linter's suggested fix",
	},
	{
		category:   domain.FailureTest,
		patterns:   []string{"--- fail", "fail:", "tests failed", "test failure", "assertionerror", "assertion failed"},
		confidence: 0.9,
		severity:   domain.SeverityMedium,
		fixHint:    "inspect the failing test and the change that broke it",
	},
	{
		category:   domain.FailureDependency,
		patterns:   []string{"modulenotfounderror", "no module named", "cannot find module", "could not resolve dependency", "npm err! missing", "package not found"},
		confidence: 0.8,
		severity:   domain.SeverityMedium,
		fixHint:    "add or pin the missing dependency",
	},
	{
		category:   domain.FailureTimeout,
		patterns:   []string{"timed out", "timeout exceeded", "deadline exceeded", "etimedout"},
		confidence: 0.8,
		severity:   domain.SeverityMedium,
		fixHint:    "retry the run; investigate if timeouts repeat",
	},
}

// locationWindow is how many characters around the first pattern match
// are scanned for a file:line location.
const locationWindow = 200

// excerptLen caps the raw-log excerpt attached to a cause.
const excerptLen = 160

var (
	tracebackLoc = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	genericLoc   = regexp.MustCompile(`([A-Za-z0-9_\-./]+\.[A-Za-z]{1,5}):(\d+)(?::(\d+))?`)
)

// Analyzer pattern-matches CI failure payloads into categorized,
// confidence-scored causes.
type Analyzer struct{}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze diagnoses a CI payload. The result is never empty: if no
// detector matches, a single unknown-category cause is returned. An
// error indicates an unexpected internal failure, which is distinct from
// "no pattern matched".
func (a *Analyzer) Analyze(payload domain.CIPayload) (causes []domain.FailureCause, err error) {
	defer func() {
		if r := recover(); r != nil {
			causes = nil
			err = domain.WrapCoreError(domain.ErrAnalysisFailed.Code,
				domain.ErrAnalysisFailed.Message, fmt.Errorf("%v", r))
		}
	}()

	if payload.Logs == "" && payload.Status == "" {
		return []domain.FailureCause{{
			Category:   domain.FailureUnknown,
			Message:    "no CI logs available",
			Confidence: 0.5,
			FixHint:    "inspect the CI run manually",
			Severity:   domain.SeverityMedium,
		}}, nil
	}

	lower := strings.ToLower(payload.Logs)
	for _, d := range detectors {
		idx := firstMatch(lower, d.patterns)
		if idx < 0 {
			continue
		}
		cause := domain.FailureCause{
			Category:   d.category,
			Message:    fmt.Sprintf("detected %s failure signature in CI logs", d.category),
			LogExcerpt: excerpt(payload.Logs, idx),
			Confidence: d.confidence,
			FixHint:    d.fixHint,
			Severity:   d.severity,
		}
		cause.File, cause.Line, cause.Column = extractLocation(payload.Logs, idx)
		causes = append(causes, cause)
	}

	if len(causes) == 0 {
		causes = append(causes, unknownCause(payload))
	}
	return causes, nil
}

// firstMatch returns the index of the earliest-listed pattern found in
// text, or -1.
func firstMatch(text string, patterns []string) int {
	for _, p := range patterns {
		if i := strings.Index(text, p); i >= 0 {
			return i
		}
	}
	return -1
}

// extractLocation scans a fixed window around idx for a file:line[:col]
// shape. Traceback style wins over the generic shape. Best-effort: zero
// values mean nothing parsed cleanly.
func extractLocation(logs string, idx int) (file string, line, col int) {
	start := idx - locationWindow
	if start < 0 {
		start = 0
	}
	end := idx + locationWindow
	if end > len(logs) {
		end = len(logs)
	}
	window := logs[start:end]

	if m := tracebackLoc.FindStringSubmatch(window); m != nil {
		line, _ := strconv.Atoi(m[2])
		return m[1], line, 0
	}
	if m := genericLoc.FindStringSubmatch(window); m != nil {
		line, _ := strconv.Atoi(m[2])
		col := 0
		if m[3] != "" {
			col, _ = strconv.Atoi(m[3])
		}
		return m[1], line, col
	}
	return "", 0, 0
}

func excerpt(logs string, idx int) string {
	end := idx + excerptLen
	if end > len(logs) {
		end = len(logs)
	}
	return logs[idx:end]
}

// unknownCause builds the fallback cause when no signature matched,
// deriving the message from the conclusion or the log prefix.
func unknownCause(payload domain.CIPayload) domain.FailureCause {
	msg := "unrecognized CI failure"
	switch {
	case payload.Conclusion != "":
		msg = fmt.Sprintf("unrecognized CI failure (conclusion: %s)", payload.Conclusion)
	case payload.Logs != "":
		prefix := payload.Logs
		if len(prefix) > 80 {
			prefix = prefix[:80]
		}
		msg = fmt.Sprintf("unrecognized CI failure: %s", strings.TrimSpace(prefix))
	}
	return domain.FailureCause{
		Category:   domain.FailureUnknown,
		Message:    msg,
		LogExcerpt: excerpt(payload.Logs, 0),
		Confidence: 0.5,
		FixHint:    "inspect the CI run manually",
		Severity:   domain.SeverityMedium,
	}
}
