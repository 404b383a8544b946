package queue

import (
	"context"
	"slices"
	"sync"
)

// Handler performs one attempt of an operation. A nil error is success;
// any error (or a panic) counts as a failed attempt.
type Handler interface {
	Handle(ctx context.Context, op Operation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, op Operation) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

// Registry maps operation types to handlers.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h for opType, replacing any previous handler.
func (r *Registry) Register(opType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[opType] = h
}

// RegisterFunc is Register for plain functions.
func (r *Registry) RegisterFunc(opType string, fn func(ctx context.Context, op Operation) error) {
	r.Register(opType, HandlerFunc(fn))
}

// Lookup returns the handler for opType.
func (r *Registry) Lookup(opType string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[opType]
	return h, ok
}

// Types returns the registered operation types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
