// Package events broadcasts queue and connectivity notifications to any
// number of independent listeners.
//
// Handlers run synchronously on the publishing goroutine, in subscription
// order, and must not publish or subscribe from inside a handler.
package events

import (
	"fmt"
	"slices"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Topics.
const (
	TopicQueueStarted        = "queue:started"
	TopicQueueCompleted      = "queue:completed"
	TopicOperationSucceeded  = "queue:operation_succeeded"
	TopicOperationFailed     = "queue:operation_failed"
	TopicConnectivityChanged = "connectivity:changed"
)

// Event is implemented by every event type carried on the Bus.
type Event interface {
	Topic() string
}

// QueueStarted is published when a drain begins.
type QueueStarted struct {
	Pending int
	At      time.Time
}

// QueueCompleted is published when a drain finishes, including drains
// aborted by cancellation or storage failure.
type QueueCompleted struct {
	Processed int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	Err       error
}

// OperationSucceeded is published after a handler succeeds and the
// operation has been removed.
type OperationSucceeded struct {
	ID      string
	Type    string
	Attempt int
}

// OperationFailed is published after a failed attempt, and when an
// exhausted operation is evicted (Permanent).
type OperationFailed struct {
	ID         string
	Type       string
	RetryCount int
	MaxRetries int
	Permanent  bool
	Err        error
}

// ConnectivityChanged is published on every online/offline transition.
type ConnectivityChanged struct {
	Online bool
	At     time.Time
}

func (QueueStarted) Topic() string        { return TopicQueueStarted }
func (QueueCompleted) Topic() string      { return TopicQueueCompleted }
func (OperationSucceeded) Topic() string  { return TopicOperationSucceeded }
func (OperationFailed) Topic() string     { return TopicOperationFailed }
func (ConnectivityChanged) Topic() string { return TopicConnectivityChanged }

// Bus is a typed facade over an EventBus instance. A nil *Bus is valid:
// Publish is a no-op.
//
// Each topic holds one EventBus callback that dispatches to the topic's
// current handlers, so cancelling a subscription removes its handler.
type Bus struct {
	bus evbus.Bus

	mu       sync.RWMutex
	handlers map[string][]*handler
}

type handler struct {
	fn func(Event)
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{bus: evbus.New(), handlers: make(map[string][]*handler)}
}

// Publish delivers e to every active subscriber of its topic.
func (b *Bus) Publish(e Event) {
	if b == nil || e == nil {
		return
	}
	b.bus.Publish(e.Topic(), e)
}

// HasSubscribers reports whether anything is subscribed to topic.
func (b *Bus) HasSubscribers(topic string) bool {
	return b.handlerCount(topic) > 0
}

func (b *Bus) handlerCount(topic string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// dispatch runs the handlers registered for topic when e was published.
// The slice is never mutated in place, so the snapshot is safe to range
// over without the lock.
func (b *Bus) dispatch(topic string) func(Event) {
	return func(e Event) {
		b.mu.RLock()
		hs := b.handlers[topic]
		b.mu.RUnlock()
		for _, h := range hs {
			h.fn(e)
		}
	}
}

func (b *Bus) add(topic string, h *handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[topic]; !ok {
		if err := b.bus.Subscribe(topic, b.dispatch(topic)); err != nil {
			return err
		}
	}
	b.handlers[topic] = append(slices.Clip(b.handlers[topic]), h)
	return nil
}

func (b *Bus) remove(topic string, h *handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[topic]
	i := slices.Index(hs, h)
	if i < 0 {
		return
	}
	b.handlers[topic] = slices.Delete(slices.Clone(hs), i, i+1)
}

// Subscribe registers fn for events of type E. The returned cancel func
// removes fn from the bus; it is safe to call more than once.
func Subscribe[E Event](b *Bus, fn func(E)) (cancel func(), err error) {
	if b == nil {
		return nil, fmt.Errorf("events: subscribe on nil bus")
	}
	if fn == nil {
		return nil, fmt.Errorf("events: nil handler")
	}
	var zero E
	topic := zero.Topic()

	h := &handler{fn: func(e Event) {
		if typed, ok := e.(E); ok {
			fn(typed)
		}
	}}
	if err := b.add(topic, h); err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", topic, err)
	}
	var once sync.Once
	return func() { once.Do(func() { b.remove(topic, h) }) }, nil
}
