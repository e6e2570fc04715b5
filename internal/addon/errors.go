package addon

import (
	"errors"
	"fmt"
)

// Errors returned by the addon manager.
var (
	// ErrAddonNotFound is returned when a name does not match a loaded addon.
	ErrAddonNotFound = errors.New("addon not found")

	// ErrNotDirectory is returned when an addon path is not a folder.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNoClickHandler is returned when a clicked frame has no handler.
	ErrNoClickHandler = errors.New("frame has no click handler")

	// ErrStaleFrame is returned for frames whose owning addon instance is gone.
	ErrStaleFrame = errors.New("frame owner is no longer loaded")
)

// ResolveError describes a missing folder or file reference. Most resolve
// errors are warnings: the step is skipped and loading continues.
type ResolveError struct {
	Addon string
	Path  string
	Err   error
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Addon, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Err
}
