package autonomy

import (
	"context"
	"errors"
	"testing"

	"github.com/navihq/recovery-core/internal/bus"
	"github.com/navihq/recovery-core/internal/domain"
)

// collector records approval and action callbacks for assertions.
type collector struct {
	approvals []bus.Message
	actions   []bus.Message
}

func newGateWithCollector(threshold float64) (*Gate, *collector) {
	b := bus.New()
	col := &collector{}
	b.Subscribe(bus.TopicApprovalRequired, func(m bus.Message) {
		col.approvals = append(col.approvals, m)
	})
	b.Subscribe(bus.TopicAutonomousAction, func(m bus.Message) {
		col.actions = append(col.actions, m)
	})
	return NewGate(b, threshold), col
}

func processed(trigger domain.Trigger, confidence float64, approval bool) domain.ProcessedEvent {
	return domain.ProcessedEvent{
		Event:            domain.Event{Source: domain.SourceCI, ExternalID: "run-1"},
		Priority:         domain.PriorityHigh,
		Trigger:          trigger,
		Confidence:       confidence,
		RequiresApproval: approval,
	}
}

func TestRoute_NoTriggerIsNoOp(t *testing.T) {
	gate, col := newGateWithCollector(0.5)

	dispatched := false
	gate.Register(domain.TriggerCIFailure, func(context.Context, domain.ProcessedEvent) error {
		dispatched = true
		return nil
	})

	gate.Route(context.Background(), processed(domain.TriggerNone, 0.9, false))

	if dispatched {
		t.Error("handler dispatched for trigger none")
	}
	if len(col.approvals) != 0 {
		t.Errorf("approvals = %d, want 0", len(col.approvals))
	}
}

func TestRoute_RequiresApprovalBeatsConfidence(t *testing.T) {
	gate, col := newGateWithCollector(0.5)

	gate.Register(domain.TriggerCIFailure, func(context.Context, domain.ProcessedEvent) error {
		t.Error("handler dispatched despite approval flag")
		return nil
	})

	// High confidence, but the approval flag must win.
	gate.Route(context.Background(), processed(domain.TriggerCIFailure, 0.99, true))

	if len(col.approvals) != 1 {
		t.Fatalf("approvals = %d, want 1", len(col.approvals))
	}
	if col.approvals[0].Reason != string(bus.ReasonRequiresApproval) {
		t.Errorf("Reason = %q, want requires_approval", col.approvals[0].Reason)
	}
}

func TestRoute_LowConfidence(t *testing.T) {
	gate, col := newGateWithCollector(0.5)

	gate.Register(domain.TriggerCIFailure, func(context.Context, domain.ProcessedEvent) error {
		t.Error("handler dispatched despite low confidence")
		return nil
	})

	gate.Route(context.Background(), processed(domain.TriggerCIFailure, 0.49, false))

	if len(col.approvals) != 1 {
		t.Fatalf("approvals = %d, want 1", len(col.approvals))
	}
	if col.approvals[0].Reason != string(bus.ReasonLowConfidence) {
		t.Errorf("Reason = %q, want low_confidence", col.approvals[0].Reason)
	}
}

func TestRoute_Dispatches(t *testing.T) {
	gate, col := newGateWithCollector(0.5)

	var got domain.ProcessedEvent
	gate.Register(domain.TriggerCIFailure, func(_ context.Context, pe domain.ProcessedEvent) error {
		got = pe
		return nil
	})

	gate.Route(context.Background(), processed(domain.TriggerCIFailure, 0.9, false))

	if got.Trigger != domain.TriggerCIFailure {
		t.Errorf("handler got trigger %q, want ci_failure", got.Trigger)
	}
	if len(col.actions) != 1 {
		t.Errorf("action callbacks = %d, want 1", len(col.actions))
	}
	if len(col.approvals) != 0 {
		t.Errorf("approvals = %d, want 0", len(col.approvals))
	}
}

func TestRoute_UnregisteredTriggerIsNoOp(t *testing.T) {
	gate, col := newGateWithCollector(0.5)

	gate.Route(context.Background(), processed(domain.TriggerPRReview, 0.9, false))

	if len(col.actions) != 0 || len(col.approvals) != 0 {
		t.Errorf("callbacks = (%d actions, %d approvals), want none",
			len(col.actions), len(col.approvals))
	}
}

func TestRoute_HandlerErrorBecomesApproval(t *testing.T) {
	gate, col := newGateWithCollector(0.5)

	gate.Register(domain.TriggerCIFailure, func(context.Context, domain.ProcessedEvent) error {
		return errors.New("downstream unavailable")
	})

	gate.Route(context.Background(), processed(domain.TriggerCIFailure, 0.9, false))

	if len(col.approvals) != 1 {
		t.Fatalf("approvals = %d, want 1", len(col.approvals))
	}
	if col.approvals[0].Reason != string(bus.ReasonHandlerFailed) {
		t.Errorf("Reason = %q, want handler_failed", col.approvals[0].Reason)
	}
}

func TestRoute_HandlerPanicBecomesApproval(t *testing.T) {
	gate, col := newGateWithCollector(0.5)

	gate.Register(domain.TriggerCIFailure, func(context.Context, domain.ProcessedEvent) error {
		panic("handler bug")
	})

	gate.Route(context.Background(), processed(domain.TriggerCIFailure, 0.9, false))

	if len(col.approvals) != 1 {
		t.Fatalf("approvals = %d, want 1", len(col.approvals))
	}
}
