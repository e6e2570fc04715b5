package script

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Errors returned by State operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("script state is closed")

	// ErrHandlerNotFound is returned when a handler reference no longer
	// resolves to a closure in this state.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrNotPersistable is raised to scripts that store functions or
	// userdata in the persisted table.
	ErrNotPersistable = errors.New("value cannot be persisted")
)

// ScriptError describes a failure raised while running addon code.
type ScriptError struct {
	// Addon is the owning addon name.
	Addon string
	// Source names what was running: a file path, an event or a hook.
	Source string
	// Err is the underlying interpreter error.
	Err error
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Addon, e.Source, Message(e.Err))
}

// Unwrap returns the underlying error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Message returns the script-facing text of err without the interpreter
// stack trace.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		if apiErr.Cause != nil {
			return apiErr.Cause.Error()
		}
		return apiErr.Object.String()
	}
	return err.Error()
}
