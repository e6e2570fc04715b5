package persist

import (
	"errors"
	"fmt"
)

// Store errors.
var (
	// ErrInvalidName is returned for addon names that cannot be used as a
	// record file name.
	ErrInvalidName = errors.New("invalid addon name")

	// ErrUnknownFormat is returned for an unsupported record format.
	ErrUnknownFormat = errors.New("unknown record format")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// StoreError describes a failed read or write of one addon's record.
type StoreError struct {
	Op    string
	Addon string
	Err   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("persist %s %s: %v", e.Op, e.Addon, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}
