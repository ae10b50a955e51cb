package healing

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navihq/recovery-core/internal/bus"
	"github.com/navihq/recovery-core/internal/domain"
)

// SessionStore mirrors terminal sessions to persistent storage. Failures
// are logged, never allowed to change an attempt's outcome.
type SessionStore interface {
	SaveSession(ctx context.Context, sess *domain.HealingSession) error
}

// EngineConfig holds the healing engine's safety bounds.
type EngineConfig struct {
	MaxAttempts    int
	MinConfidence  float64
	TimeoutMinutes int
}

// Engine owns healing sessions and runs the diagnose-plan cycle for each
// attempt. Sessions are an arena of append-only attempt records; callers
// get copies, never live references.
type Engine struct {
	Analyzer *Analyzer
	Planner  *Planner
	Bus      *bus.Bus
	Store    SessionStore // optional
	Config   EngineConfig

	mu       sync.Mutex
	sessions map[string]*domain.HealingSession
}

// NewEngine creates an Engine with defaults for zero-value config fields.
func NewEngine(a *Analyzer, p *Planner, b *bus.Bus, cfg EngineConfig) *Engine {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.TimeoutMinutes == 0 {
		cfg.TimeoutMinutes = 30
	}
	return &Engine{
		Analyzer: a,
		Planner:  p,
		Bus:      b,
		Config:   cfg,
		sessions: make(map[string]*domain.HealingSession),
	}
}

// StartSession opens a new session against an external correlation id
// (typically a PR number) and emits the started callback.
func (e *Engine) StartSession(correlationID string) *domain.HealingSession {
	sess := &domain.HealingSession{
		ID:             uuid.NewString(),
		CorrelationID:  correlationID,
		StartedAtUnix:  time.Now().Unix(),
		Status:         domain.StatusIdle,
		MaxAttempts:    e.Config.MaxAttempts,
		TimeoutMinutes: e.Config.TimeoutMinutes,
	}

	e.mu.Lock()
	e.sessions[sess.ID] = sess
	e.mu.Unlock()

	e.emit(bus.TopicHealingStarted, sess, 0, bus.Message{})
	return copySession(sess)
}

// GetSession returns a read-only copy of a session.
func (e *Engine) GetSession(id string) (*domain.HealingSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// AttemptRecovery runs one diagnose-plan cycle for the session. The
// session must not be terminal; a session entered at its attempt ceiling
// aborts before any analysis. The returned copy reflects the attempt's
// terminal state; a COMPLETED session carries the ready-to-execute plan
// in its last attempt.
//
// priorAttempts is the caller's count of recovery attempts already made
// for the same correlation id in earlier sessions. It counts toward the
// ceiling and toward the planner's attempt context.
func (e *Engine) AttemptRecovery(ctx context.Context, sessionID string, payload domain.CIPayload, priorAttempts int) (*domain.HealingSession, error) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	if sess.IsComplete() {
		e.mu.Unlock()
		return copySession(sess), domain.ErrSessionTerminal
	}

	attemptCount := priorAttempts + len(sess.Attempts)
	if attemptCount >= sess.MaxAttempts {
		sess.Status = domain.StatusAborted
		sess.EndedAtUnix = time.Now().Unix()
		out := copySession(sess)
		e.mu.Unlock()

		e.emit(bus.TopicHealingAborted, out, attemptCount, bus.Message{Reason: maxAttemptsReason})
		e.persist(ctx, out)
		return out, nil
	}
	e.mu.Unlock()

	attempt := domain.HealingAttempt{
		Number:        len(sess.Attempts) + 1,
		StartedAtUnix: time.Now().Unix(),
		Status:        domain.StatusAnalyzing,
	}
	e.emit(bus.TopicHealingAnalyzing, sess, attempt.Number, bus.Message{})

	causes, err := e.Analyzer.Analyze(payload)
	if err != nil {
		return e.finish(ctx, sess, attempt, domain.StatusFailed, bus.Message{Reason: err.Error()}, nil, nil)
	}
	if len(causes) == 0 {
		return e.finish(ctx, sess, attempt, domain.StatusFailed, bus.Message{Reason: "analyzer returned no causes"}, nil, nil)
	}
	cause := Primary(causes)
	attempt.Cause = cause
	attempt.Confidence = cause.Confidence

	attempt.Status = domain.StatusPlanning
	e.emit(bus.TopicHealingPlanning, sess, attempt.Number, bus.Message{Reason: string(cause.Category)})

	plan, err := e.Planner.Plan(causes, domain.PlanningContext{
		AttemptCount: attemptCount,
		MaxAttempts:  sess.MaxAttempts,
	})
	if err != nil {
		return e.finish(ctx, sess, attempt, domain.StatusFailed, bus.Message{Reason: err.Error()}, cause, nil)
	}
	attempt.Plan = &plan
	attempt.Confidence = plan.Confidence

	if !plan.Allowed {
		return e.finish(ctx, sess, attempt, domain.StatusBlocked, bus.Message{
			Reason:   plan.Reason,
			Goal:     plan.Goal,
			Strategy: plan.Strategy,
		}, cause, &plan)
	}
	if plan.Confidence < e.Config.MinConfidence {
		return e.finish(ctx, sess, attempt, domain.StatusBlocked, bus.Message{
			Reason:     "confidence below threshold",
			Confidence: plan.Confidence,
			Strategy:   plan.Strategy,
		}, cause, &plan)
	}

	out, err := e.finish(ctx, sess, attempt, domain.StatusCompleted, bus.Message{
		Goal:       plan.Goal,
		Confidence: plan.Confidence,
		Strategy:   plan.Strategy,
		Risk:       plan.Risk,
	}, cause, &plan)
	if err == nil {
		// The external code generator consumes the plan from here; this
		// core does not execute fixes.
		e.emit(bus.TopicHealingPlanReady, out, attempt.Number, bus.Message{
			Plan:       &plan,
			Goal:       plan.Goal,
			Confidence: plan.Confidence,
			Strategy:   plan.Strategy,
			Risk:       plan.Risk,
		})
	}
	return out, err
}

// finish seals the attempt with a terminal status, appends it, mirrors
// the status onto the session, emits the matching callback, and persists.
func (e *Engine) finish(ctx context.Context, sess *domain.HealingSession, attempt domain.HealingAttempt,
	status domain.SessionStatus, msg bus.Message, cause *domain.FailureCause, plan *domain.FixPlan) (*domain.HealingSession, error) {

	attempt.Status = status
	attempt.EndedAtUnix = time.Now().Unix()
	attempt.Result = msg.Reason
	if attempt.Result == "" {
		attempt.Result = msg.Goal
	}

	e.mu.Lock()
	sess.Attempts = append(sess.Attempts, attempt)
	sess.Status = status
	sess.EndedAtUnix = attempt.EndedAtUnix
	out := copySession(sess)
	e.mu.Unlock()

	e.emit(topicFor(status), out, attempt.Number, msg)
	e.persist(ctx, out)
	return out, nil
}

func topicFor(status domain.SessionStatus) bus.Topic {
	switch status {
	case domain.StatusCompleted:
		return bus.TopicHealingCompleted
	case domain.StatusBlocked:
		return bus.TopicHealingBlocked
	case domain.StatusAborted:
		return bus.TopicHealingAborted
	default:
		return bus.TopicHealingFailed
	}
}

// emit publishes a healing progress callback tagged with the session id,
// correlation id, and attempt number.
func (e *Engine) emit(topic bus.Topic, sess *domain.HealingSession, attempt int, msg bus.Message) {
	msg.Topic = topic
	msg.SessionID = sess.ID
	msg.CorrelationID = sess.CorrelationID
	msg.Attempt = attempt
	e.Bus.Publish(msg)
}

func (e *Engine) persist(ctx context.Context, sess *domain.HealingSession) {
	if e.Store == nil {
		return
	}
	if err := e.Store.SaveSession(ctx, sess); err != nil {
		log.Printf("healing: persist session %s: %v", sess.ID, err)
	}
}

// CleanupExpired drops terminal sessions older than the retention window
// from the arena and returns how many were removed.
func (e *Engine) CleanupExpired(retention time.Duration) int {
	cutoff := time.Now().Add(-retention).Unix()
	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, sess := range e.sessions {
		if sess.IsComplete() && sess.EndedAtUnix > 0 && sess.EndedAtUnix < cutoff {
			delete(e.sessions, id)
			removed++
		}
	}
	return removed
}

// copySession deep-copies a session so callers never share the arena's
// mutable record.
func copySession(sess *domain.HealingSession) *domain.HealingSession {
	out := *sess
	out.Attempts = make([]domain.HealingAttempt, len(sess.Attempts))
	copy(out.Attempts, sess.Attempts)
	return &out
}
