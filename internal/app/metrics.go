package app

import (
	"sync/atomic"
	"time"

	"github.com/dshills/addonhost/internal/addon"
)

// Metrics counts addon lifecycle events.
type Metrics struct {
	loads      atomic.Uint64
	reloads    atomic.Uint64
	unloads    atomic.Uint64
	loadErrors atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Record counts one manager event. It is an addon.EventHandler.
func (m *Metrics) Record(ev addon.ManagerEvent) {
	switch ev.Type {
	case addon.EventAddonLoaded:
		m.loads.Add(1)
	case addon.EventAddonReloaded:
		m.reloads.Add(1)
	case addon.EventAddonUnloaded:
		m.unloads.Add(1)
	case addon.EventAddonError:
		m.loadErrors.Add(1)
	}
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Loads:      m.loads.Load(),
		Reloads:    m.reloads.Load(),
		Unloads:    m.unloads.Load(),
		LoadErrors: m.loadErrors.Load(),
		Uptime:     time.Since(m.startTime),
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Loads      uint64
	Reloads    uint64
	Unloads    uint64
	LoadErrors uint64
	Uptime     time.Duration
}
