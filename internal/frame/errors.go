package frame

import "errors"

// Registry errors.
var (
	// ErrFrameNotFound is returned when an id does not name a live frame.
	ErrFrameNotFound = errors.New("frame not found")

	// ErrInvalidAnchor is returned for an unknown anchor point name.
	ErrInvalidAnchor = errors.New("invalid anchor point")

	// ErrNegativeSize is returned for a width or height below zero.
	ErrNegativeSize = errors.New("size must not be negative")
)
