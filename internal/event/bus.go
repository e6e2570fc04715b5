// Package event broadcasts named events to every loaded addon.
//
// Dispatch is synchronous: it returns after every handler of every addon
// has been attempted. Within an addon handlers run in registration order;
// addons are visited in the order the Source lists them.
//
//	bus := event.NewBus(manager, log)
//	err := bus.Dispatch(ctx, "PLAYER_LOGIN", script.String("Ayla"), script.Number(60))
package event

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/script"
)

// Subscriber is one addon's subscription table. *script.State satisfies it.
type Subscriber interface {
	Name() string
	Dispatch(ctx context.Context, event string, args ...script.Value) []error
}

// Source lists the current subscribers in dispatch order.
type Source interface {
	Subscribers() []Subscriber
}

// SourceFunc adapts a function to Source.
type SourceFunc func() []Subscriber

// Subscribers implements Source.
func (f SourceFunc) Subscribers() []Subscriber {
	return f()
}

// Bus dispatches events to the subscribers of a Source.
type Bus struct {
	source Source
	log    *console.Logger

	// Stats
	dispatched atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64
	panicked   atomic.Uint64
}

// NewBus creates a bus over source.
func NewBus(source Source, log *console.Logger) *Bus {
	if log == nil {
		log = console.Discard()
	}
	return &Bus{source: source, log: log}
}

// Dispatch invokes every handler registered for name across all
// subscribers, passing args positionally. Handler failures are logged and
// returned joined; they never stop the remaining handlers.
func (b *Bus) Dispatch(ctx context.Context, name string, args ...script.Value) error {
	if name == "" {
		return ErrInvalidEvent
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.dispatched.Add(1)

	var errs []error
	for _, sub := range b.source.Subscribers() {
		b.delivered.Add(1)
		for _, err := range b.deliver(ctx, sub, name, args) {
			b.failed.Add(1)
			herr := &HandlerError{Addon: sub.Name(), Event: name, Err: err}
			b.log.Errorf("%v", herr)
			errs = append(errs, herr)
		}
	}
	return errors.Join(errs...)
}

// Emit converts Go values with script.FromGo and dispatches them.
func (b *Bus) Emit(ctx context.Context, name string, args ...any) error {
	values := make([]script.Value, len(args))
	for i, a := range args {
		v, err := script.FromGo(a)
		if err != nil {
			return fmt.Errorf("event %s: argument %d: %w", name, i+1, err)
		}
		values[i] = v
	}
	return b.Dispatch(ctx, name, values...)
}

// deliver runs one subscriber with panic recovery.
func (b *Bus) deliver(ctx context.Context, sub Subscriber, name string, args []script.Value) (errs []error) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			errs = append(errs, fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()
	return sub.Dispatch(ctx, name, args...)
}

// Stats returns dispatch statistics.
func (b *Bus) Stats() Stats {
	return Stats{
		Dispatched: b.dispatched.Load(),
		Delivered:  b.delivered.Load(),
		Failed:     b.failed.Load(),
		Panicked:   b.panicked.Load(),
	}
}

// Stats contains bus statistics.
type Stats struct {
	// Dispatched counts Dispatch calls.
	Dispatched uint64
	// Delivered counts subscriber visits.
	Delivered uint64
	// Failed counts handler errors, panics included.
	Failed uint64
	// Panicked counts recovered panics.
	Panicked uint64
}
