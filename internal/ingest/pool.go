// Package ingest buffers incoming events and drains them through a fixed
// pool of workers with deduplication and bounded in-flight concurrency.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/navihq/recovery-core/internal/autonomy"
	"github.com/navihq/recovery-core/internal/bus"
	"github.com/navihq/recovery-core/internal/domain"
	"github.com/navihq/recovery-core/internal/event"
)

// pollInterval bounds how long an idle worker waits before re-checking
// the queue and the stop signal.
const pollInterval = time.Second

// EventSink receives normalized events and their classification outcome
// for bookkeeping. Implementations must tolerate being called from
// multiple workers.
type EventSink interface {
	Accepted(ev domain.Event) error
	Processed(pe domain.ProcessedEvent) error
}

// PoolConfig holds tunable parameters for the worker pool.
type PoolConfig struct {
	Workers     int
	MaxInFlight int
}

// Pool is the ingestion queue plus its draining workers.
//
// The dedup set is the only cross-worker shared mutable state: a worker
// adds the event's dedup key before processing and removes it in a defer,
// so at most one classification/dispatch cycle runs per key at a time.
type Pool struct {
	Classifier *event.Classifier
	Gate       *autonomy.Gate
	Bus        *bus.Bus
	Sink       EventSink // optional
	Config     PoolConfig

	mu      sync.Mutex
	queue   []domain.Event
	stopped bool

	inflight   chan struct{} // bounded-concurrency gate
	notify     chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	processing map[string]bool
	procMu     sync.Mutex
}

// NewPool creates a Pool with sensible defaults for zero-value config fields.
func NewPool(cl *event.Classifier, gate *autonomy.Gate, b *bus.Bus, cfg PoolConfig) *Pool {
	if cfg.Workers == 0 {
		cfg.Workers = 3
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = 10
	}
	return &Pool{
		Classifier: cl,
		Gate:       gate,
		Bus:        b,
		Config:     cfg,
		inflight:   make(chan struct{}, cfg.MaxInFlight),
		notify:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		processing: make(map[string]bool),
	}
}

// Enqueue appends an event to the unbounded buffer without blocking and
// emits the event.received callback. Returns ErrPoolStopped after Stop.
func (p *Pool) Enqueue(ev domain.Event) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return domain.ErrPoolStopped
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	if p.Sink != nil {
		if err := p.Sink.Accepted(ev); err != nil {
			log.Printf("ingest: record accepted event %s: %v", ev.DedupKey(), err)
		}
	}
	p.Bus.Publish(bus.Message{Topic: bus.TopicEventReceived, Event: &ev})

	// Wake one idle worker. Dropping the signal is fine: workers also
	// poll on a timer so the queue can never go stale.
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the worker goroutines. Workers run until Stop is called
// or ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.Config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to exit and waits for them. In-flight work is not
// canceled; workers finish their current event and observe the stop flag
// on the next poll. Safe to call multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.stopCh)
	})
	p.wg.Wait()
}

// QueueDepth returns the number of buffered events not yet picked up.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if ev, ok := p.dequeue(); ok {
			p.handle(ctx, ev)
			continue
		}

		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-p.notify:
		case <-ticker.C:
		}
	}
}

func (p *Pool) dequeue() (domain.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return domain.Event{}, false
	}
	ev := p.queue[0]
	p.queue = p.queue[1:]
	return ev, true
}

// handle runs the classification/dispatch cycle for one event. Panics are
// recovered so a bad event never takes down the worker.
func (p *Pool) handle(ctx context.Context, ev domain.Event) {
	key := ev.DedupKey()
	if !p.claim(key) {
		log.Printf("ingest: skipping %s, already processing", key)
		return
	}
	defer p.release(key)

	// Acquire an in-flight slot, still honoring shutdown.
	select {
	case p.inflight <- struct{}{}:
	case <-p.stopCh:
		return
	case <-ctx.Done():
		return
	}
	defer func() { <-p.inflight }()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ingest: recovered processing %s: %v", key, r)
		}
	}()

	pe := p.Classifier.Classify(ev)

	if p.Sink != nil {
		if err := p.Sink.Processed(pe); err != nil {
			log.Printf("ingest: record processed event %s: %v", key, err)
		}
	}
	p.Bus.Publish(bus.Message{Topic: bus.TopicEventProcessed, Event: &ev, Processed: &pe})

	p.Gate.Route(ctx, pe)
}

// claim marks a dedup key as in-process. Returns false if another worker
// already holds it.
func (p *Pool) claim(key string) bool {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	if p.processing[key] {
		return false
	}
	p.processing[key] = true
	return true
}

func (p *Pool) release(key string) {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	delete(p.processing, key)
}
