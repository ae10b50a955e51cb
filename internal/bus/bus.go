// Package bus implements the typed pub/sub callback bus that notifies
// external collaborators of pipeline and healing lifecycle events.
package bus

import (
	"log"
	"sync"

	"github.com/navihq/recovery-core/internal/domain"
)

// Topic names a callback channel.
type Topic string

const (
	TopicEventReceived    Topic = "event.received"
	TopicEventProcessed   Topic = "event.processed"
	TopicAutonomousAction Topic = "autonomous.action"
	TopicApprovalRequired Topic = "approval.required"

	TopicHealingStarted   Topic = "navi.selfHealing.started"
	TopicHealingAnalyzing Topic = "navi.selfHealing.analyzing"
	TopicHealingPlanning  Topic = "navi.selfHealing.planning"
	TopicHealingBlocked   Topic = "navi.selfHealing.blocked"
	TopicHealingCompleted Topic = "navi.selfHealing.completed"
	TopicHealingFailed    Topic = "navi.selfHealing.failed"
	TopicHealingAborted   Topic = "navi.selfHealing.aborted"
	TopicHealingPlanReady Topic = "navi.selfHealing.planReady"
)

// ApprovalReason explains why a human approval callback fired.
type ApprovalReason string

const (
	ReasonRequiresApproval ApprovalReason = "requires_approval"
	ReasonLowConfidence    ApprovalReason = "low_confidence"
	ReasonHandlerFailed    ApprovalReason = "handler_failed"
)

// Message is the payload delivered to subscribers. Only the fields
// relevant to the topic are populated.
type Message struct {
	Topic Topic

	// Event pipeline fields.
	Event     *domain.Event
	Processed *domain.ProcessedEvent
	Trigger   domain.Trigger
	Reason    string
	Detail    string

	// Healing fields.
	SessionID     string
	CorrelationID string
	Attempt       int
	Goal          string
	Confidence    float64
	Strategy      domain.FixStrategy
	Risk          domain.Level
	Plan          *domain.FixPlan
}

// Handler consumes a published message. Handlers must be fast; slow
// consumers should hand off to their own queue.
type Handler func(Message)

// Bus is a topic-keyed callback registry with best-effort delivery.
// Subscriber failures are isolated: a panicking handler is logged and
// skipped, never allowed to break the emitting path.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for a topic. There is no unsubscribe;
// subscriptions live for the life of the process.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// Publish delivers msg to every subscriber of msg.Topic in subscription
// order. Delivery is synchronous and best-effort.
func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	handlers := b.subs[msg.Topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, msg)
	}
}

func deliver(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: subscriber panic on %s: %v", msg.Topic, r)
		}
	}()
	h(msg)
}
