// Package autonomy decides whether a processed event may be acted on
// autonomously or must be escalated to a human.
package autonomy

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/navihq/recovery-core/internal/bus"
	"github.com/navihq/recovery-core/internal/domain"
)

// Handler executes the autonomous behavior registered for a trigger.
type Handler func(ctx context.Context, pe domain.ProcessedEvent) error

// Gate routes processed events: approval request or autonomous dispatch.
type Gate struct {
	Bus                 *bus.Bus
	ConfidenceThreshold float64

	mu       sync.RWMutex
	handlers map[domain.Trigger]Handler
}

// NewGate creates a Gate. A zero threshold falls back to 0.5.
func NewGate(b *bus.Bus, threshold float64) *Gate {
	if threshold == 0 {
		threshold = 0.5
	}
	return &Gate{
		Bus:                 b,
		ConfidenceThreshold: threshold,
		handlers:            make(map[domain.Trigger]Handler),
	}
}

// Register sets the autonomous handler for a trigger, replacing any
// previous registration.
func (g *Gate) Register(trigger domain.Trigger, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[trigger] = h
}

// Route applies the autonomy decision for one processed event.
//
// Decision order: no trigger → no-op; requires approval → approval
// callback (checked before confidence); confidence below threshold →
// approval callback; otherwise dispatch. A failing handler is converted
// into an approval request, never silently dropped.
func (g *Gate) Route(ctx context.Context, pe domain.ProcessedEvent) {
	if pe.Trigger == domain.TriggerNone {
		return
	}

	if pe.RequiresApproval {
		g.requestApproval(pe, bus.ReasonRequiresApproval, "classifier requires human approval")
		return
	}

	if pe.Confidence < g.ConfidenceThreshold {
		g.requestApproval(pe, bus.ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f below threshold %.2f", pe.Confidence, g.ConfidenceThreshold))
		return
	}

	g.mu.RLock()
	h, ok := g.handlers[pe.Trigger]
	g.mu.RUnlock()
	if !ok {
		log.Printf("autonomy: no handler registered for trigger %q, skipping %s",
			pe.Trigger, pe.Event.DedupKey())
		return
	}

	g.Bus.Publish(bus.Message{
		Topic:     bus.TopicAutonomousAction,
		Event:     &pe.Event,
		Processed: &pe,
		Trigger:   pe.Trigger,
	})

	if err := g.invoke(ctx, h, pe); err != nil {
		log.Printf("autonomy: handler for %q failed on %s: %v", pe.Trigger, pe.Event.DedupKey(), err)
		g.requestApproval(pe, bus.ReasonHandlerFailed,
			fmt.Sprintf("autonomous handler failed: %v", err))
	}
}

// invoke runs the handler, converting panics into errors so a broken
// handler follows the same escalation path as a failing one.
func (g *Gate) invoke(ctx context.Context, h Handler, pe domain.ProcessedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, pe)
}

func (g *Gate) requestApproval(pe domain.ProcessedEvent, reason bus.ApprovalReason, detail string) {
	g.Bus.Publish(bus.Message{
		Topic:     bus.TopicApprovalRequired,
		Event:     &pe.Event,
		Processed: &pe,
		Trigger:   pe.Trigger,
		Reason:    string(reason),
		Detail:    detail,
	})
}
