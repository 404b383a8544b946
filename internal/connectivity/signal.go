// Package connectivity tracks online/offline state and drains the offline
// queue whenever the device comes back online.
package connectivity

import "sync"

// Signal is a source of connectivity state.
//
// Changes delivers every transition in order, so a flap shorter than one
// consumer iteration is still seen. A consumer more than changeBuffer
// transitions behind loses the oldest on/off pairs but always receives
// the latest state.
type Signal interface {
	IsOnline() bool
	Changes() <-chan bool
}

// changeBuffer bounds the undelivered transitions a signal holds.
const changeBuffer = 64

// state is the shared implementation behind the signals.
type state struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

func newState(initial bool) *state {
	return &state{online: initial, changes: make(chan bool, changeBuffer)}
}

func (s *state) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *state) Changes() <-chan bool {
	return s.changes
}

// set records online and reports whether it was a transition.
func (s *state) set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return false
	}
	s.online = online
	for {
		select {
		case s.changes <- online:
			return true
		default:
		}
		// drop a pair so the queued transitions keep alternating
		for range 2 {
			select {
			case <-s.changes:
			default:
			}
		}
	}
}

// ManualSignal is driven by its owner via Set. Embedding applications use
// it to forward platform connectivity callbacks.
type ManualSignal struct {
	*state
}

// NewManualSignal creates a signal in the given initial state.
func NewManualSignal(online bool) *ManualSignal {
	return &ManualSignal{state: newState(online)}
}

// Set updates the state. Setting the current state again is a no-op.
func (m *ManualSignal) Set(online bool) {
	m.set(online)
}
