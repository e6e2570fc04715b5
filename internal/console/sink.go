package console

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// SlogSink returns a subscriber that forwards lines to an slog logger.
func SlogSink(logger *slog.Logger) Subscriber {
	return func(line Line) {
		attrs := make([]slog.Attr, 0, 1)
		if line.Component != "" {
			attrs = append(attrs, slog.String("component", line.Component))
		}
		logger.LogAttrs(context.Background(), SlogLevel(line.Level), line.Text, attrs...)
	}
}

// SlogLevel maps a console level to the slog level of the same name.
func SlogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Recorder collects lines in memory. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	lines []Line
}

// Record appends a line. Use it as a Subscriber.
func (r *Recorder) Record(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

// AtLevel returns recorded lines with exactly the given level.
func (r *Recorder) AtLevel(level Level) []Line {
	var out []Line
	for _, line := range r.Lines() {
		if line.Level == level {
			out = append(out, line)
		}
	}
	return out
}

// Contains reports whether any recorded line contains substr.
func (r *Recorder) Contains(substr string) bool {
	return r.Count(substr) > 0
}

// Count returns the number of recorded lines containing substr.
func (r *Recorder) Count(substr string) int {
	n := 0
	for _, line := range r.Lines() {
		if strings.Contains(line.Text, substr) {
			n++
		}
	}
	return n
}

// Reset discards recorded lines.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}
