package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation is returned by Enqueue for operations that
	// violate the record invariants.
	ErrInvalidOperation = errors.New("queue: invalid operation")

	// ErrNoHandler is the attempt failure recorded for operation types
	// with no registered handler.
	ErrNoHandler = errors.New("queue: no handler registered")

	// ErrProcessing is returned by ClearProcessed while a drain is running.
	ErrProcessing = errors.New("queue: drain in progress")
)

// PanicError is the attempt failure recorded when a handler panics.
type PanicError struct {
	Type  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("queue: handler for %q panicked: %v", e.Type, e.Value)
}
