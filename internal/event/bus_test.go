package event

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/script"
)

func newState(t *testing.T, name, code string) *script.State {
	t.Helper()
	st, err := script.NewState(script.Options{Name: name})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.DoString(context.Background(), name, code); err != nil {
		t.Fatalf("DoString(%s) error = %v", name, err)
	}
	return st
}

func subscribers(subs ...Subscriber) Source {
	return SourceFunc(func() []Subscriber { return subs })
}

type panicker struct{}

func (panicker) Name() string { return "Boom" }
func (panicker) Dispatch(context.Context, string, ...script.Value) []error {
	panic("kaboom")
}

func TestDispatchReachesEveryAddonInOrder(t *testing.T) {
	a := newState(t, "A", `
		seen = ""
		registerEvent("TICK", function(n) seen = seen .. "a" .. n end)
		registerEvent("TICK", function(n) error("broken") end)
		registerEvent("TICK", function(n) seen = seen .. "A" .. n end)
	`)
	b := newState(t, "B", `
		seen = ""
		registerEvent("TICK", function(n) seen = seen .. "b" .. n end)
		registerEvent("OTHER", function() seen = "wrong" end)
	`)

	rec := &console.Recorder{}
	log := console.New(console.LevelDebug)
	log.Subscribe(rec.Record)
	bus := NewBus(subscribers(a, b), log)

	err := bus.Dispatch(context.Background(), "TICK", script.Number(1))

	if got, _ := a.GetGlobal("seen").AsString(); got != "a1A1" {
		t.Errorf("A seen = %q, want a1A1", got)
	}
	if got, _ := b.GetGlobal("seen").AsString(); got != "b1" {
		t.Errorf("B seen = %q, want b1", got)
	}

	var herr *HandlerError
	if !errors.As(err, &herr) || herr.Addon != "A" || herr.Event != "TICK" {
		t.Fatalf("error = %v, want HandlerError from A", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error = %v, want script message", err)
	}
	if len(rec.AtLevel(console.LevelError)) != 1 {
		t.Errorf("logged errors = %v, want 1", rec.Lines())
	}

	st := bus.Stats()
	if st.Dispatched != 1 || st.Delivered != 2 || st.Failed != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	after := newState(t, "After", `
		hits = 0
		registerEvent("PING", function() hits = hits + 1 end)
	`)
	bus := NewBus(subscribers(panicker{}, after), nil)

	err := bus.Dispatch(context.Background(), "PING")
	if !errors.Is(err, ErrHandlerPanic) {
		t.Errorf("error = %v, want ErrHandlerPanic", err)
	}
	if n, _ := after.GetGlobal("hits").AsNumber(); n != 1 {
		t.Errorf("hits = %v, want 1", n)
	}
	if bus.Stats().Panicked != 1 {
		t.Errorf("Panicked = %d, want 1", bus.Stats().Panicked)
	}
}

func TestDispatchNoSubscribers(t *testing.T) {
	bus := NewBus(subscribers(), nil)
	if err := bus.Dispatch(context.Background(), "NOTHING"); err != nil {
		t.Errorf("Dispatch() error = %v", err)
	}
	if err := bus.Dispatch(context.Background(), ""); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Dispatch(\"\") error = %v, want ErrInvalidEvent", err)
	}
}

func TestEmitConvertsArguments(t *testing.T) {
	st := newState(t, "A", `
		got = ""
		registerEvent("CHAT", function(who, n, opts) got = who .. n .. opts.mode end)
	`)
	bus := NewBus(subscribers(st), nil)

	if err := bus.Emit(context.Background(), "CHAT", "bob", 3, map[string]any{"mode": "say"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if got, _ := st.GetGlobal("got").AsString(); got != "bob3say" {
		t.Errorf("got = %q, want bob3say", got)
	}

	if err := bus.Emit(context.Background(), "CHAT", make(chan int)); !errors.Is(err, script.ErrNotPersistable) {
		t.Errorf("Emit(chan) error = %v, want ErrNotPersistable", err)
	}
}
