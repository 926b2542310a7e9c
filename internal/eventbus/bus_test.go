package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhq/claimd/internal/types"
)

// recorder collects delivered events.
type recorder struct {
	name  string
	types []types.EventType

	mu     sync.Mutex
	got    []*types.Event
	notify chan struct{}
}

func newRecorder(name string, evTypes ...types.EventType) *recorder {
	return &recorder{name: name, types: evTypes, notify: make(chan struct{}, queueSize)}
}

func (r *recorder) ID() string                 { return r.name }
func (r *recorder) Handles() []types.EventType { return r.types }

func (r *recorder) Handle(_ context.Context, event *types.Event) error {
	r.mu.Lock()
	r.got = append(r.got, event)
	r.mu.Unlock()
	r.notify <- struct{}{}
	return nil
}

func (r *recorder) waitFor(t *testing.T, n int) []*types.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.got) >= n {
			out := append([]*types.Event(nil), r.got...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func event(t types.EventType, agg string, version int64) *types.Event {
	return &types.Event{
		ID: "ev-test", Type: t, AggregateID: agg, Version: version,
		Timestamp: time.Now(), Payload: types.ExpiredPayload{ExpiredAt: time.Now()},
	}
}

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	all := newRecorder("all")
	only := newRecorder("expired-only", types.EventClaimExpired)
	bus.Subscribe(all)
	bus.Subscribe(only)

	bus.Publish(event(types.EventClaimExpired, "cl-1", 1))
	bus.Publish(event(types.EventClaimReleased, "cl-2", 1))

	got := all.waitFor(t, 2)
	assert.Len(t, got, 2)

	got = only.waitFor(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, types.EventClaimExpired, got[0].Type)
}

func TestDeliveryOrderPerAggregate(t *testing.T) {
	bus := New()
	defer bus.Close()

	rec := newRecorder("ordered")
	bus.Subscribe(rec)

	for v := int64(1); v <= 20; v++ {
		bus.Publish(event(types.EventClaimStatusChanged, "cl-1", v))
	}

	got := rec.waitFor(t, 20)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Version)
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := New()

	stall := make(chan struct{})
	bus.Subscribe(HandlerFunc{
		Name: "stalled",
		Fn: func(context.Context, *types.Event) error {
			<-stall
			return nil
		},
	})

	// Overfill the stalled subscriber's queue; Publish must return promptly
	// every time, dropping the overflow.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := int64(0); v < queueSize*2; v++ {
			bus.Publish(event(types.EventClaimExpired, "cl-1", v))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	close(stall)
	bus.Close()
}

func TestCloseDrainsQueues(t *testing.T) {
	bus := New()
	rec := newRecorder("drain")
	bus.Subscribe(rec)

	for v := int64(1); v <= 5; v++ {
		bus.Publish(event(types.EventClaimNoteAdded, "cl-1", v))
	}
	bus.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.got, 5)

	// Publishing after close is a no-op, not a panic.
	bus.Publish(event(types.EventClaimNoteAdded, "cl-1", 6))
}
