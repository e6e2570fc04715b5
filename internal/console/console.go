// Package console provides the host's output channel: a stream of
// human-readable status lines emitted by every step of the addon pipeline.
//
// Consumers (a terminal sink, an in-app console, a test harness) subscribe
// to the stream. Lines carry a level, a timestamp, the emitting component
// and free text. Nothing about the stream is durable.
package console

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a status line.
type Level int

const (
	// LevelDebug is for detailed tracing.
	LevelDebug Level = iota
	// LevelInfo is for normal pipeline progress.
	LevelInfo
	// LevelWarn is for recoverable problems.
	LevelWarn
	// LevelError is for failed steps.
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Line is a single status line.
type Line struct {
	Time      time.Time
	Level     Level
	Component string
	Text      string
}

// String formats the line the way a plain console would show it.
func (l Line) String() string {
	if l.Component == "" {
		return fmt.Sprintf("[%s] %s", l.Level, l.Text)
	}
	return fmt.Sprintf("[%s] %s: %s", l.Level, l.Component, l.Text)
}

// Subscriber receives status lines. Subscribers are called synchronously
// on the emitting goroutine and must not block.
type Subscriber func(Line)

// hub is shared by a logger and every logger derived from it.
type hub struct {
	mu     sync.RWMutex
	level  Level
	subs   map[uint64]Subscriber
	nextID uint64
	now    func() time.Time
}

// Logger emits status lines to its subscribers.
type Logger struct {
	hub       *hub
	component string
}

// New creates a logger that drops lines below level.
func New(level Level) *Logger {
	return &Logger{hub: &hub{
		level: level,
		subs:  make(map[uint64]Subscriber),
		now:   time.Now,
	}}
}

// Discard returns a logger with no subscribers.
func Discard() *Logger {
	return New(LevelError + 1)
}

// WithComponent returns a logger that tags its lines with component.
// The derived logger shares level and subscribers with its parent.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{hub: l.hub, component: component}
}

// Component returns the component tag of this logger.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum level delivered to subscribers.
func (l *Logger) SetLevel(level Level) {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	l.hub.level = level
}

// Level returns the minimum level delivered to subscribers.
func (l *Logger) Level() Level {
	l.hub.mu.RLock()
	defer l.hub.mu.RUnlock()
	return l.hub.level
}

// Subscribe registers fn for every subsequent line.
// Returns a function that removes the subscription.
func (l *Logger) Subscribe(fn Subscriber) func() {
	if fn == nil {
		return func() {}
	}

	l.hub.mu.Lock()
	l.hub.nextID++
	id := l.hub.nextID
	l.hub.subs[id] = fn
	l.hub.mu.Unlock()

	return func() {
		l.hub.mu.Lock()
		defer l.hub.mu.Unlock()
		delete(l.hub.subs, id)
	}
}

// Debugf emits a debug line.
func (l *Logger) Debugf(format string, args ...any) {
	l.emit(LevelDebug, format, args...)
}

// Infof emits an info line.
func (l *Logger) Infof(format string, args ...any) {
	l.emit(LevelInfo, format, args...)
}

// Warnf emits a warning line.
func (l *Logger) Warnf(format string, args ...any) {
	l.emit(LevelWarn, format, args...)
}

// Errorf emits an error line.
func (l *Logger) Errorf(format string, args ...any) {
	l.emit(LevelError, format, args...)
}

func (l *Logger) emit(level Level, format string, args ...any) {
	if l == nil || l.hub == nil {
		return
	}

	l.hub.mu.RLock()
	if level < l.hub.level || len(l.hub.subs) == 0 {
		l.hub.mu.RUnlock()
		return
	}
	ids := make([]uint64, 0, len(l.hub.subs))
	for id := range l.hub.subs {
		ids = append(ids, id)
	}
	subs := make([]Subscriber, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, l.hub.subs[id])
	}
	now := l.hub.now
	l.hub.mu.RUnlock()

	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	line := Line{
		Time:      now(),
		Level:     level,
		Component: l.component,
		Text:      text,
	}

	for _, fn := range subs {
		func() {
			defer func() {
				recover() // a broken subscriber must not break the pipeline
			}()
			fn(line)
		}()
	}
}
