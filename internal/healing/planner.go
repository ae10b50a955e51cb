package healing

import (
	"fmt"
	"regexp"

	"github.com/navihq/recovery-core/internal/domain"
)

// categoryPriority is the fixed order used to pick the primary cause.
// Earlier entries win regardless of the input list's order.
var categoryPriority = []domain.FailureCategory{
	domain.FailureSyntax,
	domain.FailureDependency,
	domain.FailureLint,
	domain.FailureTest,
	domain.FailureTimeout,
	domain.FailureInfra,
	domain.FailureUnknown,
}

// Lint auto-fix confidence decays with each prior attempt.
const (
	lintBaseConfidence  = 0.8
	lintDecayPerAttempt = 0.1
	lintFloorConfidence = 0.6
)

// maxAttemptsReason is the operator-visible reason for the attempt ceiling.
const maxAttemptsReason = "Max self-healing attempts reached"

// singleModule matches exactly one quoted module name, the shape a
// simple missing-dependency message takes.
var singleModule = regexp.MustCompile(`^[^'"]*['"]([A-Za-z0-9@/_.\-]+)['"][^'"]*$`)

// Planner applies the fixed safety policy to diagnosed causes.
type Planner struct{}

// NewPlanner creates a Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Primary selects the single highest-priority cause by the fixed
// category order. Returns nil for an empty input.
func Primary(causes []domain.FailureCause) *domain.FailureCause {
	for _, cat := range categoryPriority {
		for i := range causes {
			if causes[i].Category == cat {
				return &causes[i]
			}
		}
	}
	if len(causes) > 0 {
		return &causes[0]
	}
	return nil
}

// Plan produces exactly one FixPlan for the primary cause. The attempt
// ceiling dominates every category policy.
func (p *Planner) Plan(causes []domain.FailureCause, pctx domain.PlanningContext) (plan domain.FixPlan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan = domain.FixPlan{}
			err = domain.WrapCoreError(domain.ErrPlanningFailed.Code,
				domain.ErrPlanningFailed.Message, fmt.Errorf("%v", r))
		}
	}()

	primary := Primary(causes)
	if primary == nil {
		return domain.FixPlan{}, domain.ErrNoCauses
	}

	if pctx.AttemptCount >= pctx.MaxAttempts {
		return domain.FixPlan{
			Allowed:         false,
			Strategy:        domain.StrategyHumanOnly,
			Reason:          maxAttemptsReason,
			Goal:            "hand the failure to a human with the attempt history",
			Confidence:      0.0,
			EstimatedEffort: domain.LevelHigh,
			Risk:            domain.LevelHigh,
			MaxAttempts:     pctx.MaxAttempts,
		}, nil
	}

	switch primary.Category {
	case domain.FailureSyntax:
		return p.planSyntax(primary, pctx), nil
	case domain.FailureLint:
		return p.planLint(primary, pctx), nil
	case domain.FailureDependency:
		return p.planDependency(primary, pctx), nil
	case domain.FailureTimeout:
		return p.planTimeout(primary, pctx), nil
	default:
		return p.planHumanOnly(primary, pctx), nil
	}
}

// planSyntax: always auto-fixable at a fixed confidence.
func (p *Planner) planSyntax(cause *domain.FailureCause, pctx domain.PlanningContext) domain.FixPlan {
	return domain.FixPlan{
		Allowed:         true,
		Strategy:        domain.StrategyAutoFix,
		Reason:          "syntax errors are mechanically correctable",
		Goal:            goalFor(cause, "fix the syntax error"),
		Confidence:      0.85,
		EstimatedEffort: domain.LevelLow,
		Risk:            domain.LevelLow,
		MaxAttempts:     pctx.MaxAttempts,
	}
}

// planLint: auto-fixable, but confidence decays with each prior attempt.
func (p *Planner) planLint(cause *domain.FailureCause, pctx domain.PlanningContext) domain.FixPlan {
	conf := lintBaseConfidence - lintDecayPerAttempt*float64(pctx.AttemptCount)
	if conf < lintFloorConfidence {
		conf = lintFloorConfidence
	}
	return domain.FixPlan{
		Allowed:         true,
		Strategy:        domain.StrategyAutoFix,
		Reason:          "lint findings are auto-fixable",
		Goal:            goalFor(cause, "resolve the lint findings"),
		Confidence:      conf,
		EstimatedEffort: domain.LevelLow,
		Risk:            domain.LevelLow,
		MaxAttempts:     pctx.MaxAttempts,
	}
}

// planDependency: conditional. Allowed only when the cause looks like a
// single, well-known missing dependency; conservatively human-only
// otherwise.
func (p *Planner) planDependency(cause *domain.FailureCause, pctx domain.PlanningContext) domain.FixPlan {
	pkg, ok := simpleMissingDependency(cause)
	if !ok {
		return domain.FixPlan{
			Allowed:         false,
			Strategy:        domain.StrategyHumanOnly,
			Reason:          "dependency failure is not a simple missing package",
			Goal:            goalFor(cause, "untangle the dependency failure"),
			Confidence:      0.3,
			EstimatedEffort: domain.LevelMedium,
			Risk:            domain.LevelHigh,
			MaxAttempts:     pctx.MaxAttempts,
		}
	}
	return domain.FixPlan{
		Allowed:         true,
		Strategy:        domain.StrategyAutoFix,
		Reason:          "single well-known missing dependency",
		Goal:            fmt.Sprintf("add the missing dependency %q", pkg),
		Confidence:      0.75,
		EstimatedEffort: domain.LevelLow,
		Risk:            domain.LevelMedium,
		MaxAttempts:     pctx.MaxAttempts,
		Prerequisites:   []string{"verify the lockfile stays consistent"},
	}
}

// planTimeout: a single retry is cheap; a second timeout escalates.
func (p *Planner) planTimeout(cause *domain.FailureCause, pctx domain.PlanningContext) domain.FixPlan {
	if pctx.AttemptCount == 0 {
		return domain.FixPlan{
			Allowed:         true,
			Strategy:        domain.StrategyRetry,
			Reason:          "first timeout, retry before escalating",
			Goal:            "re-run the failed CI job",
			Confidence:      0.8,
			EstimatedEffort: domain.LevelLow,
			Risk:            domain.LevelLow,
			MaxAttempts:     pctx.MaxAttempts,
		}
	}
	return domain.FixPlan{
		Allowed:         false,
		Strategy:        domain.StrategyHumanOnly,
		Reason:          "repeated timeout, likely a real hang or infra issue",
		Goal:            goalFor(cause, "investigate the repeated timeout"),
		Confidence:      0.2,
		EstimatedEffort: domain.LevelMedium,
		Risk:            domain.LevelHigh,
		MaxAttempts:     pctx.MaxAttempts,
	}
}

// planHumanOnly covers test, infra, and unknown categories.
func (p *Planner) planHumanOnly(cause *domain.FailureCause, pctx domain.PlanningContext) domain.FixPlan {
	var reason, goal string
	switch cause.Category {
	case domain.FailureTest:
		reason = "test failures need human judgment about intended behavior"
		goal = goalFor(cause, "review the failing test and the change under test")
	case domain.FailureInfra:
		reason = "infrastructure failures are outside the repository's control"
		goal = "escalate to the infrastructure owner"
	default:
		reason = "failure cause could not be categorized"
		goal = "diagnose the failure manually"
	}
	return domain.FixPlan{
		Allowed:         false,
		Strategy:        domain.StrategyHumanOnly,
		Reason:          reason,
		Goal:            goal,
		Confidence:      0.0,
		EstimatedEffort: domain.LevelMedium,
		Risk:            domain.LevelHigh,
		MaxAttempts:     pctx.MaxAttempts,
	}
}

// simpleMissingDependency reports whether the cause names exactly one
// missing package, returning its name. Anything ambiguous fails closed.
func simpleMissingDependency(cause *domain.FailureCause) (string, bool) {
	text := cause.Message
	if cause.LogExcerpt != "" {
		text = cause.LogExcerpt
	}
	m := singleModule.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func goalFor(cause *domain.FailureCause, fallback string) string {
	if cause.File != "" && cause.Line > 0 {
		return fmt.Sprintf("%s (%s:%d)", fallback, cause.File, cause.Line)
	}
	return fallback
}
