package event

import (
	"fmt"

	"github.com/navihq/recovery-core/internal/domain"
)

// verdict is the raw output of a single classification rule.
type verdict struct {
	priority   domain.Priority
	trigger    domain.Trigger
	confidence float64
	context    map[string]string
	approval   bool
}

// Classifier maps canonical events to ProcessedEvents. Classification is
// total: it never errors and never drops an event. On any internal
// failure it degrades to a LOW-priority, no-trigger, approval-required
// result carrying the error text in context.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify produces the ProcessedEvent for ev.
func (c *Classifier) Classify(ev domain.Event) (out domain.ProcessedEvent) {
	defer func() {
		if r := recover(); r != nil {
			out = degraded(ev, fmt.Sprintf("classification panic: %v", r))
		}
	}()

	var v verdict
	switch ev.Type {
	case domain.EventCIFailed:
		v = classifyCIFailed(ev)
	case domain.EventCISucceeded:
		v = verdict{priority: domain.PriorityNormal, confidence: 0.9, context: ciContext(ev)}
	case domain.EventIssueCreated:
		v = classifyIssueCreated(ev)
	case domain.EventIssueUpdated, domain.EventIssueCommented:
		v = verdict{priority: domain.PriorityNormal, confidence: 0.6, context: issueContext(ev)}
	case domain.EventPROpened:
		v = verdict{
			priority:   domain.PriorityNormal,
			trigger:    domain.TriggerPRReview,
			confidence: 0.8,
			context:    prContext(ev),
		}
	case domain.EventPRMerged:
		v = verdict{priority: domain.PriorityLow, confidence: 0.9, context: prContext(ev)}
	case domain.EventPush:
		v = verdict{priority: domain.PriorityLow, confidence: 0.8, context: map[string]string{}}
	case domain.EventChatMention:
		// A direct mention always goes to a human.
		v = verdict{priority: domain.PriorityHigh, confidence: 0.6, approval: true, context: map[string]string{}}
	case domain.EventChatMessage:
		v = verdict{priority: domain.PriorityLow, confidence: 0.5, context: map[string]string{}}
	default:
		v = verdict{priority: domain.PriorityLow, confidence: 0.0, approval: true, context: map[string]string{}}
	}

	if v.context == nil {
		v.context = map[string]string{}
	}
	return domain.ProcessedEvent{
		Event:            ev,
		Priority:         v.priority,
		Trigger:          v.trigger,
		Confidence:       v.confidence,
		Context:          v.context,
		RequiresApproval: v.approval,
	}
}

// classifyCIFailed marks CI failures as healing candidates. Failures on a
// default branch are critical; anything else is high.
func classifyCIFailed(ev domain.Event) verdict {
	ctx := ciContext(ev)
	priority := domain.PriorityHigh
	if b := ctx["branch"]; b == "main" || b == "master" {
		priority = domain.PriorityCritical
	}
	return verdict{
		priority:   priority,
		trigger:    domain.TriggerCIFailure,
		confidence: 0.9,
		context:    ctx,
	}
}

func classifyIssueCreated(ev domain.Event) verdict {
	ctx := issueContext(ev)
	priority := domain.PriorityNormal
	switch stringTag(ev, "priority") {
	case "urgent", "critical":
		priority = domain.PriorityCritical
	case "high":
		priority = domain.PriorityHigh
	}
	return verdict{
		priority:   priority,
		trigger:    domain.TriggerIssueTriage,
		confidence: 0.75,
		context:    ctx,
	}
}

func degraded(ev domain.Event, errText string) domain.ProcessedEvent {
	return domain.ProcessedEvent{
		Event:            ev,
		Priority:         domain.PriorityLow,
		Trigger:          domain.TriggerNone,
		Confidence:       0.0,
		Context:          map[string]string{"classification_error": errText},
		RequiresApproval: true,
	}
}

func ciContext(ev domain.Event) map[string]string {
	ctx := map[string]string{}
	for _, k := range []string{"repo", "branch", "pr_number", "workflow", "run_id"} {
		if v := stringTag(ev, k); v != "" {
			ctx[k] = v
		}
	}
	return ctx
}

func issueContext(ev domain.Event) map[string]string {
	ctx := map[string]string{}
	for _, k := range []string{"project", "issue_key", "assignee", "priority"} {
		if v := stringTag(ev, k); v != "" {
			ctx[k] = v
		}
	}
	return ctx
}

func prContext(ev domain.Event) map[string]string {
	ctx := map[string]string{}
	for _, k := range []string{"repo", "pr_number", "author", "base_branch"} {
		if v := stringTag(ev, k); v != "" {
			ctx[k] = v
		}
	}
	return ctx
}

// stringTag reads a tag value as a string, tolerating non-string values.
func stringTag(ev domain.Event, key string) string {
	v, ok := ev.Tags[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}
