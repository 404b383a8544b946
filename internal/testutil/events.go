package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/scanvault/internal/events"
)

// Recorder captures every event published on a bus, in publish order.
//
// Thread-safety: safe for concurrent publishers.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	notify chan struct{}
}

// RecordEvents subscribes a Recorder to every scanvault topic on bus.
func RecordEvents(t testing.TB, bus *events.Bus) *Recorder {
	t.Helper()
	r := &Recorder{notify: make(chan struct{}, 1)}

	var cancels []func()
	add := func(cancel func(), err error) {
		require.NoError(t, err)
		cancels = append(cancels, cancel)
	}
	add(events.Subscribe(bus, func(e events.QueueStarted) { r.record(e) }))
	add(events.Subscribe(bus, func(e events.QueueCompleted) { r.record(e) }))
	add(events.Subscribe(bus, func(e events.OperationSucceeded) { r.record(e) }))
	add(events.Subscribe(bus, func(e events.OperationFailed) { r.record(e) }))
	add(events.Subscribe(bus, func(e events.ConnectivityChanged) { r.record(e) }))

	t.Cleanup(func() {
		for _, cancel := range cancels {
			cancel()
		}
	})
	return r
}

func (r *Recorder) record(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Topics returns the topic of each recorded event, in order.
func (r *Recorder) Topics() []string {
	all := r.All()
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.Topic()
	}
	return out
}

// Notify returns a channel that receives after new events are recorded.
// Signals are coalesced.
func (r *Recorder) Notify() <-chan struct{} {
	return r.notify
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// OfType returns the recorded events of type E, in order.
func OfType[E events.Event](r *Recorder) []E {
	var out []E
	for _, e := range r.All() {
		if typed, ok := e.(E); ok {
			out = append(out, typed)
		}
	}
	return out
}
