// Package eventbus fans emitted events out to subscribers. Delivery is
// fire-and-forget from the publisher's perspective: each subscriber owns a
// worker goroutine and a bounded queue, so a slow subscriber can never block
// the coordinator. Order is preserved per aggregate (each subscriber's queue
// is FIFO); no global order across aggregates is promised.
package eventbus

import (
	"context"
	"log"
	"sync"

	"github.com/swarmhq/claimd/internal/types"
)

// Handler consumes events from the bus.
type Handler interface {
	// ID identifies the handler in logs.
	ID() string

	// Handles returns the event types this handler wants. An empty slice
	// subscribes to everything.
	Handles() []types.EventType

	// Handle processes one event. Errors are logged, not propagated.
	Handle(ctx context.Context, event *types.Event) error
}

// queueSize bounds each subscriber's backlog. When a subscriber falls this
// far behind, further events for it are dropped with a log line.
const queueSize = 256

// Bus dispatches events to registered handlers.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	handler Handler
	queue   chan *types.Event
}

// New creates an event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and starts its delivery worker.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	sub := &subscriber{handler: h, queue: make(chan *types.Event, queueSize)}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	go b.deliver(sub)
}

// Publish enqueues an event for every matching subscriber. It never blocks:
// a full subscriber queue drops the event for that subscriber only.
func (b *Bus) Publish(event *types.Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !wants(sub.handler, event.Type) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			log.Printf("eventbus: subscriber %q backlog full, dropping %s for %s",
				sub.handler.ID(), event.Type, event.AggregateID)
		}
	}
}

// Close stops delivery workers after draining their queues.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) deliver(sub *subscriber) {
	defer b.wg.Done()
	for event := range sub.queue {
		if err := sub.handler.Handle(context.Background(), event); err != nil {
			log.Printf("eventbus: handler %q error for %s: %v",
				sub.handler.ID(), event.Type, err)
		}
	}
}

func wants(h Handler, t types.EventType) bool {
	handled := h.Handles()
	if len(handled) == 0 {
		return true
	}
	for _, ht := range handled {
		if ht == t {
			return true
		}
	}
	return false
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Name  string
	Types []types.EventType
	Fn    func(ctx context.Context, event *types.Event) error
}

// ID implements Handler.
func (h HandlerFunc) ID() string { return h.Name }

// Handles implements Handler.
func (h HandlerFunc) Handles() []types.EventType { return h.Types }

// Handle implements Handler.
func (h HandlerFunc) Handle(ctx context.Context, event *types.Event) error {
	return h.Fn(ctx, event)
}
