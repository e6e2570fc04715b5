package script

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// persistedTable exposes the addon's persisted data through proxy tables.
// Scripts never touch the backing tables directly, so every write, at any
// depth, passes through newIndex or one of the hooked library functions
// and is reported.
type persistedTable struct {
	L    *lua.LState
	root *lua.LTable
	meta *lua.LTable
	// key holds a proxy's data table in the proxy's raw storage. Scripts
	// can only use string and number keys, so it never collides.
	key     *lua.LUserData
	proxies map[*lua.LTable]*lua.LTable // data -> proxy, live data only
	notify  func()
}

func newPersistedTable(L *lua.LState, seed map[string]Value, notify func()) *persistedTable {
	p := &persistedTable{
		L:       L,
		key:     L.NewUserData(),
		proxies: make(map[*lua.LTable]*lua.LTable),
		notify:  notify,
	}

	p.meta = L.NewTable()
	p.meta.RawSetString("__index", L.NewFunction(p.index))
	p.meta.RawSetString("__newindex", L.NewFunction(p.newIndex))
	p.meta.RawSetString("__pairs", L.NewFunction(p.pairs))
	p.meta.RawSetString("__len", L.NewFunction(p.length))
	p.meta.RawSetString("__metatable", lua.LString("persisted"))

	data := L.NewTable()
	for k, v := range seed {
		if v.Kind() == KindNil || v.Kind() == KindHandler {
			continue
		}
		data.RawSet(luaKey(k), toLua(L, v, nil))
	}
	p.root = p.proxy(data)
	p.hookLibraries(L)
	return p
}

// proxy returns the unique proxy for a data table.
func (p *persistedTable) proxy(data *lua.LTable) *lua.LTable {
	if px, ok := p.proxies[data]; ok {
		return px
	}
	px := p.L.NewTable()
	px.RawSet(p.key, data)
	p.L.SetMetatable(px, p.meta)
	p.proxies[data] = px
	return px
}

// dataOf returns the data table behind a proxy.
func (p *persistedTable) dataOf(v lua.LValue) (*lua.LTable, bool) {
	px, ok := v.(*lua.LTable)
	if !ok || px.Metatable != p.meta {
		return nil, false
	}
	data, ok := px.RawGet(p.key).(*lua.LTable)
	return data, ok
}

func (p *persistedTable) checkData(L *lua.LState) *lua.LTable {
	data, ok := p.dataOf(L.CheckTable(1))
	if !ok {
		L.ArgError(1, "not a persisted table")
	}
	return data
}

// forget drops the proxies of a data table that left the persisted tree.
// A script still holding one of them keeps a working but detached table.
func (p *persistedTable) forget(data *lua.LTable) {
	delete(p.proxies, data)
	data.ForEach(func(_, v lua.LValue) {
		if t, ok := v.(*lua.LTable); ok {
			p.forget(t)
		}
	})
}

func (p *persistedTable) wrap(v lua.LValue) lua.LValue {
	if t, ok := v.(*lua.LTable); ok {
		return p.proxy(t)
	}
	return v
}

func (p *persistedTable) unwrap(v lua.LValue) lua.LValue {
	if data, ok := p.dataOf(v); ok {
		return data
	}
	return v
}

// detach copies a data table into a plain table owned by the script.
func (p *persistedTable) detach(L *lua.LState, v lua.LValue) lua.LValue {
	t, ok := v.(*lua.LTable)
	if !ok {
		return v
	}
	return toLua(L, fromLua(t, make(map[*lua.LTable]bool)), nil)
}

func (p *persistedTable) index(L *lua.LState) int {
	data := p.checkData(L)
	L.Push(p.wrap(data.RawGet(L.Get(2))))
	return 1
}

func (p *persistedTable) newIndex(L *lua.LState) int {
	p.set(L, p.checkData(L), L.Get(2), L.Get(3))
	return 0
}

// set stores a copy of v under key and reports the change.
func (p *persistedTable) set(L *lua.LState, data *lua.LTable, key, v lua.LValue) {
	if err := checkKey(key); err != nil {
		L.ArgError(2, err.Error())
	}

	cv, err := p.importValue(v, make(map[*lua.LTable]bool))
	if err != nil {
		L.RaiseError("persisted.%s: %v", key.String(), err)
	}
	if old, ok := data.RawGet(key).(*lua.LTable); ok {
		p.forget(old)
	}
	data.RawSet(key, cv)
	p.notify()
}

func (p *persistedTable) pairs(L *lua.LState) int {
	px := L.CheckTable(1)
	data := p.checkData(L)
	L.Push(L.NewFunction(func(L *lua.LState) int {
		k, v := data.Next(L.Get(2))
		if k == lua.LNil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(k)
		L.Push(p.wrap(v))
		return 2
	}))
	L.Push(px)
	L.Push(lua.LNil)
	return 3
}

func (p *persistedTable) length(L *lua.LState) int {
	L.Push(lua.LNumber(p.checkData(L).Len()))
	return 1
}

// hookLibraries redirects the raw table functions to the data table when
// their first argument is a persisted proxy. Other arguments reach the
// original functions unchanged.
func (p *persistedTable) hookLibraries(L *lua.LState) {
	if tbl, ok := L.GetGlobal("table").(*lua.LTable); ok {
		p.hook(L, tbl, "insert", p.insert)
		p.hook(L, tbl, "remove", p.remove)
		p.hook(L, tbl, "sort", p.sort)
		p.hook(L, tbl, "concat", p.read)
		p.hook(L, tbl, "getn", p.read)
		p.hook(L, tbl, "maxn", p.read)
	}
	globals := L.G.Global
	p.hook(L, globals, "rawset", p.rawset)
	p.hook(L, globals, "rawget", p.rawget)
	p.hook(L, globals, "next", p.next)
	p.hook(L, globals, "unpack", p.read)
}

type proxyFunc func(L *lua.LState, orig lua.LValue, data *lua.LTable) int

func (p *persistedTable) hook(L *lua.LState, lib *lua.LTable, name string, fn proxyFunc) {
	orig := lib.RawGetString(name)
	if orig == lua.LNil {
		return
	}
	lib.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
		if data, ok := p.dataOf(L.Get(1)); ok {
			return fn(L, orig, data)
		}
		args := make([]lua.LValue, L.GetTop())
		for i := range args {
			args[i] = L.Get(i + 1)
		}
		return callThrough(L, orig, args...)
	}))
}

// callThrough calls fn with args and leaves every result on the stack.
func callThrough(L *lua.LState, fn lua.LValue, args ...lua.LValue) int {
	top := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	L.Call(len(args), lua.MultRet)
	return L.GetTop() - top
}

// rest returns the arguments after the table.
func rest(L *lua.LState) []lua.LValue {
	var out []lua.LValue
	for i := 2; i <= L.GetTop(); i++ {
		out = append(out, L.Get(i))
	}
	return out
}

func (p *persistedTable) insert(L *lua.LState, orig lua.LValue, data *lua.LTable) int {
	args := rest(L)
	if len(args) == 0 {
		L.ArgError(2, "value expected")
	}
	v, err := p.importValue(args[len(args)-1], make(map[*lua.LTable]bool))
	if err != nil {
		L.RaiseError("persisted: %v", err)
	}
	args[len(args)-1] = v
	callThrough(L, orig, append([]lua.LValue{data}, args...)...)
	p.notify()
	return 0
}

func (p *persistedTable) remove(L *lua.LState, orig lua.LValue, data *lua.LTable) int {
	before := data.Len()
	n := callThrough(L, orig, append([]lua.LValue{data}, rest(L)...)...)
	if data.Len() == before {
		return n
	}
	if n > 0 {
		if t, ok := L.Get(-1).(*lua.LTable); ok {
			p.forget(t)
			L.Pop(1)
			L.Push(p.detach(L, t))
		}
	}
	p.notify()
	return n
}

func (p *persistedTable) sort(L *lua.LState, _ lua.LValue, data *lua.LTable) int {
	less := L.OptFunction(2, nil)
	elems := make([]lua.LValue, data.Len())
	for i := range elems {
		elems[i] = p.wrap(data.RawGetInt(i + 1))
	}
	sort.SliceStable(elems, func(i, j int) bool {
		if less == nil {
			return L.LessThan(elems[i], elems[j])
		}
		L.Push(less)
		L.Push(elems[i])
		L.Push(elems[j])
		L.Call(2, 1)
		r := L.Get(-1)
		L.Pop(1)
		return lua.LVAsBool(r)
	})
	for i, e := range elems {
		data.RawSetInt(i+1, p.unwrap(e))
	}
	p.notify()
	return 0
}

// read runs a non-mutating function on the data table and wraps any
// table results.
func (p *persistedTable) read(L *lua.LState, orig lua.LValue, data *lua.LTable) int {
	top := L.GetTop()
	n := callThrough(L, orig, append([]lua.LValue{data}, rest(L)...)...)
	results := make([]lua.LValue, n)
	for i := range results {
		results[i] = p.wrap(L.Get(top + i + 1))
	}
	L.Pop(n)
	for _, r := range results {
		L.Push(r)
	}
	return n
}

func (p *persistedTable) rawset(L *lua.LState, _ lua.LValue, data *lua.LTable) int {
	p.set(L, data, L.Get(2), L.Get(3))
	L.Push(L.Get(1))
	return 1
}

func (p *persistedTable) rawget(L *lua.LState, _ lua.LValue, data *lua.LTable) int {
	L.Push(p.wrap(data.RawGet(L.Get(2))))
	return 1
}

func (p *persistedTable) next(L *lua.LState, _ lua.LValue, data *lua.LTable) int {
	k, v := data.Next(L.Get(2))
	if k == lua.LNil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(k)
	L.Push(p.wrap(v))
	return 2
}

// importValue copies v into fresh data tables. Proxies are unwrapped and
// plain tables deep-copied, so later writes through the original
// reference are not part of the persisted data.
func (p *persistedTable) importValue(v lua.LValue, seen map[*lua.LTable]bool) (lua.LValue, error) {
	switch t := v.(type) {
	case *lua.LNilType, lua.LBool, lua.LString:
		return v, nil
	case lua.LNumber:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return nil, fmt.Errorf("%w: non-finite number", ErrNotPersistable)
		}
		return v, nil
	case *lua.LTable:
		if data, ok := p.dataOf(t); ok {
			t = data
		}
		if seen[t] {
			return nil, fmt.Errorf("%w: cyclic table", ErrNotPersistable)
		}
		seen[t] = true
		defer delete(seen, t)

		out := p.L.NewTable()
		var err error
		t.ForEach(func(k, e lua.LValue) {
			if err != nil {
				return
			}
			if err = checkKey(k); err != nil {
				return
			}
			var ce lua.LValue
			if ce, err = p.importValue(e, seen); err == nil {
				out.RawSet(k, ce)
			}
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotPersistable, v.Type())
	}
}

func (p *persistedTable) snapshot() map[string]Value {
	data, _ := p.dataOf(p.root)
	v := fromLua(data, make(map[*lua.LTable]bool))
	t, _ := v.AsTable()
	return t
}

func checkKey(k lua.LValue) error {
	switch t := k.(type) {
	case lua.LString:
		return nil
	case lua.LNumber:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return fmt.Errorf("%w: non-finite key", ErrNotPersistable)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s key", ErrNotPersistable, k.Type())
	}
}
