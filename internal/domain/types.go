// Package domain defines the core types for the Navi recovery engine.
package domain

// EventSource identifies where a signal originated.
type EventSource string

const (
	SourceIssueTracker  EventSource = "issue_tracker"
	SourceSourceControl EventSource = "source_control"
	SourceChat          EventSource = "chat"
	SourceCI            EventSource = "ci"
	SourceUnknown       EventSource = "unknown"
)

// ParseEventSource maps a raw source string to an EventSource,
// falling back to SourceUnknown for anything unrecognized.
func ParseEventSource(s string) EventSource {
	switch EventSource(s) {
	case SourceIssueTracker, SourceSourceControl, SourceChat, SourceCI:
		return EventSource(s)
	default:
		return SourceUnknown
	}
}

// EventType identifies the kind of signal. The set is open: vendors emit
// types we have never seen, so unrecognized values map to EventUnknown.
type EventType string

const (
	EventIssueCreated   EventType = "issue_created"
	EventIssueUpdated   EventType = "issue_updated"
	EventIssueCommented EventType = "issue_commented"
	EventPROpened       EventType = "pr_opened"
	EventPRMerged       EventType = "pr_merged"
	EventPush           EventType = "push"
	EventChatMessage    EventType = "chat_message"
	EventChatMention    EventType = "chat_mention"
	EventCIFailed       EventType = "ci_build_failed"
	EventCISucceeded    EventType = "ci_build_succeeded"
	EventUnknown        EventType = "unknown"
)

// ParseEventType maps a raw event type string to an EventType.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventIssueCreated, EventIssueUpdated, EventIssueCommented,
		EventPROpened, EventPRMerged, EventPush,
		EventChatMessage, EventChatMention,
		EventCIFailed, EventCISucceeded:
		return EventType(s)
	default:
		return EventUnknown
	}
}

// Priority orders processed events for human attention.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Trigger is a closed tag identifying which autonomous behavior an event
// may activate. TriggerNone means the event carries no autonomy candidate.
type Trigger string

const (
	TriggerNone        Trigger = ""
	TriggerCIFailure   Trigger = "ci_failure"
	TriggerIssueTriage Trigger = "issue_triage"
	TriggerPRReview    Trigger = "pr_review"
)

// RawEvent is the inbound wire shape of a signal before normalization.
type RawEvent struct {
	Source         string         `json:"source"`
	EventType      string         `json:"event_type"`
	ExternalID     string         `json:"external_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Content        string         `json:"content,omitempty"`
	URL            string         `json:"url,omitempty"`
	Tags           map[string]any `json:"tags,omitempty"`
	OccurredAtUnix int64          `json:"occurred_at,omitempty"`
}

// Event is the canonical, normalized form of a signal.
// Immutable once constructed by the normalizer.
type Event struct {
	Source         EventSource
	Type           EventType
	ExternalID     string
	Title          string
	Summary        string
	Content        string
	URL            string
	Tags           map[string]any
	ReceivedAtUnix int64
}

// DedupKey returns the (source, external_id) pair used to guarantee
// at-most-one concurrent processing of the same logical event.
func (e Event) DedupKey() string {
	return string(e.Source) + "/" + e.ExternalID
}

// ProcessedEvent is the classifier's verdict on an Event.
// Created exactly once per event and read-only downstream.
type ProcessedEvent struct {
	Event            Event
	Priority         Priority
	Trigger          Trigger
	Confidence       float64
	Context          map[string]string
	RequiresApproval bool
}

// FailureCategory classifies a diagnosed CI failure.
type FailureCategory string

const (
	FailureSyntax     FailureCategory = "syntax"
	FailureLint       FailureCategory = "lint"
	FailureTest       FailureCategory = "test"
	FailureDependency FailureCategory = "dependency"
	FailureInfra      FailureCategory = "infra"
	FailureTimeout    FailureCategory = "timeout"
	FailureUnknown    FailureCategory = "unknown"
)

// Severity grades how serious a diagnosed failure is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// FailureCause is one diagnosed reason a CI run failed.
// Immutable value; zero or more are produced per analysis.
type FailureCause struct {
	Category   FailureCategory
	Message    string
	File       string
	Line       int
	Column     int
	LogExcerpt string
	Confidence float64
	FixHint    string
	Severity   Severity
}

// FixStrategy names how a planned fix would be carried out.
type FixStrategy string

const (
	StrategyAutoFix   FixStrategy = "auto_fix"
	StrategyGuidedFix FixStrategy = "guided_fix"
	StrategyHumanOnly FixStrategy = "human_only"
	StrategyRetry     FixStrategy = "retry"
	StrategyIgnore    FixStrategy = "ignore"
)

// Level grades estimated effort and risk.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// FixPlan is the planner's single decision for a diagnosed failure.
// Immutable; exactly one is produced per planning call.
type FixPlan struct {
	Allowed         bool
	Strategy        FixStrategy
	Reason          string
	Goal            string
	Confidence      float64
	EstimatedEffort Level
	Risk            Level
	MaxAttempts     int
	Prerequisites   []string
}

// SafeForAutoFix reports whether downstream executors may apply this plan
// without human approval. Derived, not stored, so category policy and
// safety gating cannot drift apart.
func (p FixPlan) SafeForAutoFix() bool {
	return p.Allowed &&
		p.Strategy == StrategyAutoFix &&
		p.Confidence >= 0.7 &&
		(p.Risk == LevelLow || p.Risk == LevelMedium)
}

// SessionStatus is the state of a healing session or one of its attempts.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusAnalyzing SessionStatus = "analyzing"
	StatusPlanning  SessionStatus = "planning"
	StatusCompleted SessionStatus = "completed"
	StatusBlocked   SessionStatus = "blocked"
	StatusFailed    SessionStatus = "failed"
	StatusAborted   SessionStatus = "aborted"
)

// IsTerminal reports whether the status admits no further attempts.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBlocked, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// HealingAttempt records one diagnose-plan cycle inside a session.
// Append-only: never mutated after completion.
type HealingAttempt struct {
	Number        int
	StartedAtUnix int64
	EndedAtUnix   int64
	Status        SessionStatus
	Cause         *FailureCause
	Plan          *FixPlan
	Result        string
	Confidence    float64
}

// HealingSession is one bounded recovery cycle against an external
// correlation id (typically a PR number).
type HealingSession struct {
	ID             string
	CorrelationID  string
	StartedAtUnix  int64
	EndedAtUnix    int64
	Status         SessionStatus
	Attempts       []HealingAttempt
	MaxAttempts    int
	TimeoutMinutes int
}

// IsComplete reports whether the session reached a terminal status.
func (s *HealingSession) IsComplete() bool {
	return s.Status.IsTerminal()
}

// CIPayload is the inbound CI failure payload handed to the analyzer.
type CIPayload struct {
	Logs       string `json:"logs"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
}

// PlanningContext carries attempt bookkeeping into the planner.
type PlanningContext struct {
	AttemptCount int
	MaxAttempts  int
	RepoContext  map[string]string
}
