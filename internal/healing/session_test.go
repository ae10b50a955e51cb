package healing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/navihq/recovery-core/internal/bus"
	"github.com/navihq/recovery-core/internal/domain"
)

// topicRecorder captures healing callbacks in publish order.
type topicRecorder struct {
	mu       sync.Mutex
	messages []bus.Message
}

func (r *topicRecorder) record(m bus.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *topicRecorder) topics() []bus.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Topic, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Topic
	}
	return out
}

func (r *topicRecorder) last(topic bus.Topic) *bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Topic == topic {
			m := r.messages[i]
			return &m
		}
	}
	return nil
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *topicRecorder) {
	t.Helper()
	b := bus.New()
	rec := &topicRecorder{}
	for _, topic := range []bus.Topic{
		bus.TopicHealingStarted, bus.TopicHealingAnalyzing, bus.TopicHealingPlanning,
		bus.TopicHealingBlocked, bus.TopicHealingCompleted, bus.TopicHealingFailed,
		bus.TopicHealingAborted, bus.TopicHealingPlanReady,
	} {
		b.Subscribe(topic, rec.record)
	}
	return NewEngine(NewAnalyzer(), NewPlanner(), b, cfg), rec
}

func TestAttemptRecovery_LintEndToEnd(t *testing.T) {
	eng, rec := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})
	ctx := context.Background()

	sess := eng.StartSession("pr-101")
	out, err := eng.AttemptRecovery(ctx, sess.ID, domain.CIPayload{
		Logs:   "eslint: error Missing semicolon",
		Status: "failed",
	}, 0)
	if err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	if out.Status != domain.StatusCompleted {
		t.Fatalf("Status = %q, want completed", out.Status)
	}
	if len(out.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(out.Attempts))
	}

	attempt := out.Attempts[0]
	if attempt.Cause == nil || attempt.Cause.Category != domain.FailureLint {
		t.Errorf("attempt cause = %+v, want lint", attempt.Cause)
	}
	if attempt.Plan == nil {
		t.Fatal("attempt has no plan")
	}
	if !attempt.Plan.Allowed || attempt.Plan.Strategy != domain.StrategyAutoFix {
		t.Errorf("plan = (%v, %q), want allowed auto_fix", attempt.Plan.Allowed, attempt.Plan.Strategy)
	}
	if !almostEqual(attempt.Plan.Confidence, 0.8) {
		t.Errorf("plan confidence = %f, want 0.8", attempt.Plan.Confidence)
	}

	ready := rec.last(bus.TopicHealingPlanReady)
	if ready == nil {
		t.Fatal("no planReady callback")
	}
	if ready.Plan == nil || !almostEqual(ready.Plan.Confidence, 0.8) {
		t.Errorf("planReady plan = %+v, want confidence 0.8", ready.Plan)
	}
	if ready.SessionID != sess.ID || ready.CorrelationID != "pr-101" {
		t.Errorf("planReady tags = (%q, %q), want (%q, pr-101)", ready.SessionID, ready.CorrelationID, sess.ID)
	}
}

func TestAttemptRecovery_AbortAtCeilingBeforeAnalysis(t *testing.T) {
	eng, rec := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})
	ctx := context.Background()

	sess := eng.StartSession("pr-102")
	out, err := eng.AttemptRecovery(ctx, sess.ID, domain.CIPayload{
		Logs:   "eslint: error Missing semicolon",
		Status: "failed",
	}, 2)
	if err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	if out.Status != domain.StatusAborted {
		t.Fatalf("Status = %q, want aborted", out.Status)
	}
	if len(out.Attempts) != 0 {
		t.Errorf("attempts = %d, want 0 (aborted before analysis)", len(out.Attempts))
	}

	aborted := rec.last(bus.TopicHealingAborted)
	if aborted == nil {
		t.Fatal("no aborted callback")
	}
	if aborted.Reason != maxAttemptsReason {
		t.Errorf("Reason = %q, want %q", aborted.Reason, maxAttemptsReason)
	}
	// No analysis must have run.
	if rec.last(bus.TopicHealingAnalyzing) != nil {
		t.Error("analyzing callback fired for an aborted session")
	}
}

func TestAttemptRecovery_BlockedWhenPlanNotAllowed(t *testing.T) {
	eng, rec := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})
	ctx := context.Background()

	sess := eng.StartSession("pr-103")
	out, err := eng.AttemptRecovery(ctx, sess.ID, domain.CIPayload{
		Logs:   "--- FAIL: TestCheckout (0.03s)",
		Status: "failed",
	}, 0)
	if err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	if out.Status != domain.StatusBlocked {
		t.Fatalf("Status = %q, want blocked", out.Status)
	}
	blocked := rec.last(bus.TopicHealingBlocked)
	if blocked == nil {
		t.Fatal("no blocked callback")
	}
	if blocked.Reason == "" {
		t.Error("blocked callback has empty reason")
	}
}

func TestAttemptRecovery_BlockedBelowMinConfidence(t *testing.T) {
	// Min confidence above the lint plan's 0.8 forces the distinct
	// "confidence below threshold" block.
	eng, rec := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.9})
	ctx := context.Background()

	sess := eng.StartSession("pr-104")
	out, err := eng.AttemptRecovery(ctx, sess.ID, domain.CIPayload{
		Logs:   "eslint: error Missing semicolon",
		Status: "failed",
	}, 0)
	if err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	if out.Status != domain.StatusBlocked {
		t.Fatalf("Status = %q, want blocked", out.Status)
	}
	blocked := rec.last(bus.TopicHealingBlocked)
	if blocked == nil {
		t.Fatal("no blocked callback")
	}
	if blocked.Reason != "confidence below threshold" {
		t.Errorf("Reason = %q, want 'confidence below threshold'", blocked.Reason)
	}
}

func TestAttemptRecovery_TerminalSessionRejectsFurtherAttempts(t *testing.T) {
	eng, _ := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})
	ctx := context.Background()

	sess := eng.StartSession("pr-105")
	payload := domain.CIPayload{Logs: "SyntaxError: invalid syntax", Status: "failed"}

	if _, err := eng.AttemptRecovery(ctx, sess.ID, payload, 0); err != nil {
		t.Fatalf("first AttemptRecovery: %v", err)
	}
	_, err := eng.AttemptRecovery(ctx, sess.ID, payload, 0)
	if err != domain.ErrSessionTerminal {
		t.Errorf("second attempt err = %v, want ErrSessionTerminal", err)
	}
}

func TestAttemptRecovery_AttemptInvariant(t *testing.T) {
	eng, _ := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})
	ctx := context.Background()

	sess := eng.StartSession("pr-106")
	payload := domain.CIPayload{Logs: "SyntaxError", Status: "failed"}

	for i := 0; i < 5; i++ {
		out, err := eng.AttemptRecovery(ctx, sess.ID, payload, 0)
		if err != nil && err != domain.ErrSessionTerminal {
			t.Fatalf("AttemptRecovery: %v", err)
		}
		if len(out.Attempts) > out.MaxAttempts {
			t.Fatalf("attempts = %d exceeds max %d", len(out.Attempts), out.MaxAttempts)
		}
	}
}

func TestAttemptRecovery_UnknownSession(t *testing.T) {
	eng, _ := newTestEngine(t, EngineConfig{})
	_, err := eng.AttemptRecovery(context.Background(), "nope", domain.CIPayload{}, 0)
	if err != domain.ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestAttemptRecovery_ProgressCallbackSequence(t *testing.T) {
	eng, rec := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})
	ctx := context.Background()

	sess := eng.StartSession("pr-107")
	if _, err := eng.AttemptRecovery(ctx, sess.ID, domain.CIPayload{
		Logs:   "SyntaxError: invalid syntax",
		Status: "failed",
	}, 0); err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	want := []bus.Topic{
		bus.TopicHealingStarted,
		bus.TopicHealingAnalyzing,
		bus.TopicHealingPlanning,
		bus.TopicHealingCompleted,
		bus.TopicHealingPlanReady,
	}
	got := rec.topics()
	if len(got) != len(want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topics[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHandleCIFailure(t *testing.T) {
	eng, rec := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})

	pe := domain.ProcessedEvent{
		Event: domain.Event{
			Source:     domain.SourceCI,
			Type:       domain.EventCIFailed,
			ExternalID: "run-9",
			Content:    "eslint: error Missing semicolon",
			Tags:       map[string]any{"status": "failed"},
		},
		Trigger: domain.TriggerCIFailure,
		Context: map[string]string{"pr_number": "41"},
	}
	if err := eng.HandleCIFailure(context.Background(), pe); err != nil {
		t.Fatalf("HandleCIFailure: %v", err)
	}

	ready := rec.last(bus.TopicHealingPlanReady)
	if ready == nil {
		t.Fatal("no planReady callback")
	}
	if ready.CorrelationID != "41" {
		t.Errorf("CorrelationID = %q, want 41", ready.CorrelationID)
	}
}

func TestCleanupExpired(t *testing.T) {
	eng, _ := newTestEngine(t, EngineConfig{MaxAttempts: 2, MinConfidence: 0.7})
	ctx := context.Background()

	sess := eng.StartSession("pr-108")
	if _, err := eng.AttemptRecovery(ctx, sess.ID, domain.CIPayload{
		Logs:   "SyntaxError",
		Status: "failed",
	}, 0); err != nil {
		t.Fatalf("AttemptRecovery: %v", err)
	}

	// Zero retention: anything terminal that ended in the past is gone.
	time.Sleep(1100 * time.Millisecond)
	if removed := eng.CleanupExpired(0); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := eng.GetSession(sess.ID); err != domain.ErrSessionNotFound {
		t.Errorf("GetSession after cleanup = %v, want ErrSessionNotFound", err)
	}

	// A live session survives cleanup.
	live := eng.StartSession("pr-109")
	if removed := eng.CleanupExpired(0); removed != 0 {
		t.Errorf("removed live session, removed = %d", removed)
	}
	if _, err := eng.GetSession(live.ID); err != nil {
		t.Errorf("live session gone: %v", err)
	}
}
