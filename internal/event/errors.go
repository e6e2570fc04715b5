package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event bus.
var (
	// ErrInvalidEvent is returned when an event name is empty.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrHandlerPanic is returned when an addon's dispatch panicked.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerError wraps a failure of one addon's handler with the event it
// was handling.
type HandlerError struct {
	// Addon is the name of the addon whose handler failed.
	Addon string

	// Event is the dispatched event name.
	Event string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("event %s: addon %s: %v", e.Event, e.Addon, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
