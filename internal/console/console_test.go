package console

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerDeliversToSubscribers(t *testing.T) {
	log := New(LevelInfo)
	var rec Recorder
	unsub := log.Subscribe(rec.Record)

	log.WithComponent("addon").Infof("Executing %s", "init.script")
	log.Debugf("dropped")

	lines := rec.Lines()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Component != "addon" || lines[0].Text != "Executing init.script" {
		t.Errorf("line = %+v", lines[0])
	}
	if lines[0].String() != "[INFO] addon: Executing init.script" {
		t.Errorf("String() = %q", lines[0].String())
	}

	unsub()
	log.Errorf("after unsubscribe")
	if len(rec.Lines()) != 1 {
		t.Error("line delivered after unsubscribe")
	}
}

func TestLoggerSubscriberOrder(t *testing.T) {
	log := New(LevelDebug)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		log.Subscribe(func(Line) { order = append(order, i) })
	}
	log.Infof("x")
	for i, v := range order {
		if v != i {
			t.Fatalf("delivery order = %v", order)
		}
	}
}

func TestLoggerPanickingSubscriber(t *testing.T) {
	log := New(LevelDebug)
	var rec Recorder
	log.Subscribe(func(Line) { panic("boom") })
	log.Subscribe(rec.Record)

	log.Warnf("still delivered")
	if !rec.Contains("still delivered") {
		t.Error("subscriber after panicking one did not receive line")
	}
}

func TestSetLevel(t *testing.T) {
	log := New(LevelError)
	var rec Recorder
	log.Subscribe(rec.Record)

	log.Warnf("hidden")
	log.SetLevel(LevelWarn)
	log.Warnf("shown")

	if rec.Count("hidden") != 0 || rec.Count("shown") != 1 {
		t.Errorf("lines = %v", rec.Lines())
	}
	if got := len(rec.AtLevel(LevelWarn)); got != 1 {
		t.Errorf("AtLevel(Warn) = %d, want 1", got)
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log := New(LevelDebug)
	log.Subscribe(SlogSink(logger))
	log.WithComponent("store").Errorf("write failed")

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "component=store") {
		t.Errorf("slog output = %q", out)
	}
}
