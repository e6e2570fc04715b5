package script

import (
	lua "github.com/yuin/gopher-lua"
)

// handlerTable holds the closures a state hands out by token, plus the
// per-event subscription lists. Tokens are never reused within a state.
type handlerTable struct {
	nextToken uint64
	funcs     map[uint64]*lua.LFunction
	exported  map[*lua.LFunction]uint64
	events    map[string][]uint64
}

func newHandlerTable() *handlerTable {
	return &handlerTable{
		funcs:    make(map[uint64]*lua.LFunction),
		exported: make(map[*lua.LFunction]uint64),
		events:   make(map[string][]uint64),
	}
}

func (h *handlerTable) add(fn *lua.LFunction) uint64 {
	h.nextToken++
	h.funcs[h.nextToken] = fn
	return h.nextToken
}

// export returns a stable token for fn, registering it on first use.
func (h *handlerTable) export(fn *lua.LFunction) uint64 {
	if tok, ok := h.exported[fn]; ok {
		return tok
	}
	tok := h.add(fn)
	h.exported[fn] = tok
	return tok
}

func (h *handlerTable) get(tok uint64) (*lua.LFunction, bool) {
	fn, ok := h.funcs[tok]
	return fn, ok
}

func (h *handlerTable) release(tok uint64) {
	fn, ok := h.funcs[tok]
	if !ok {
		return
	}
	delete(h.funcs, tok)
	if h.exported[fn] == tok {
		delete(h.exported, fn)
	}
}

// subscribe appends fn to the event's list. Duplicates are kept.
func (h *handlerTable) subscribe(event string, fn *lua.LFunction) uint64 {
	tok := h.add(fn)
	h.events[event] = append(h.events[event], tok)
	return tok
}

// unsubscribe drops every handler registered for event.
func (h *handlerTable) unsubscribe(event string) int {
	toks := h.events[event]
	for _, tok := range toks {
		h.release(tok)
	}
	delete(h.events, event)
	return len(toks)
}

// subscribers returns a copy of the event's tokens in registration order.
func (h *handlerTable) subscribers(event string) []uint64 {
	toks := h.events[event]
	if len(toks) == 0 {
		return nil
	}
	out := make([]uint64, len(toks))
	copy(out, toks)
	return out
}

func (h *handlerTable) count(event string) int {
	return len(h.events[event])
}

func (h *handlerTable) eventNames() []string {
	names := make([]string, 0, len(h.events))
	for name := range h.events {
		names = append(names, name)
	}
	return names
}
