package ui

import (
	"errors"
	"fmt"
)

// Errors reported while instantiating declarative UI.
var (
	// ErrOutsideAddon is returned for image references that resolve
	// outside the addon folder.
	ErrOutsideAddon = errors.New("path escapes addon folder")

	// ErrInvalidAttribute is returned for attributes that do not parse.
	ErrInvalidAttribute = errors.New("invalid attribute")
)

// ParseError describes a failure in one UI file or one element of it.
type ParseError struct {
	File    string
	Element string // empty for file-level errors
	Line    int
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("%s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Element, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
