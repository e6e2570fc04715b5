// Package addon loads addon folders and manages their lifetime.
//
// Loading one folder runs a fixed pipeline:
//
//  1. library folders (libs, lib, libraries) are executed in path order
//  2. the manifest files, or every script when there is no manifest
//  3. declarative UI files
//  4. the addon's OnInitialize then OnEnable callbacks
//
// Every failure along the way is logged and kept on the Addon; none of
// them aborts the load.
package addon

import (
	"time"

	"github.com/dshills/addonhost/internal/script"
)

// Addon is one loaded addon folder.
type Addon struct {
	// Name is the folder name.
	Name string

	// Dir is the absolute folder path.
	Dir string

	// Instance identifies this load. Frames and handler references from
	// an earlier load of the same name carry a different instance.
	Instance string

	// Manifest is the manifest used, empty when the folder was scanned.
	Manifest string

	// Libraries and Files are the executed scripts in order.
	Libraries []string
	Files     []string

	// UIFiles are the declarative UI files processed.
	UIFiles []string

	// State is the addon's sandbox.
	State *script.State

	LoadedAt time.Time

	// Errors holds every non-fatal failure seen while loading.
	Errors []error
}

// OK reports whether the load completed without any failure.
func (a *Addon) OK() bool {
	return len(a.Errors) == 0
}

// EventHandler receives manager events. Handlers must not call back into
// the Manager. Panics are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent is a lifecycle notification about one addon.
type ManagerEvent struct {
	Type  ManagerEventType
	Addon string
	Error error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventAddonLoaded is emitted after a first load.
	EventAddonLoaded ManagerEventType = iota
	// EventAddonReloaded is emitted when a load replaced an existing instance.
	EventAddonReloaded
	// EventAddonUnloaded is emitted after an unload.
	EventAddonUnloaded
	// EventAddonError is emitted when a load fails.
	EventAddonError
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventAddonLoaded:
		return "loaded"
	case EventAddonReloaded:
		return "reloaded"
	case EventAddonUnloaded:
		return "unloaded"
	case EventAddonError:
		return "error"
	default:
		return "unknown"
	}
}
