package script

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// fromLua converts an interpreter value. Functions, userdata and cyclic
// references become nil.
func fromLua(lv lua.LValue, seen map[*lua.LTable]bool) Value {
	switch v := lv.(type) {
	case lua.LBool:
		return Bool(bool(v))
	case lua.LNumber:
		return Number(float64(v))
	case lua.LString:
		return String(string(v))
	case *lua.LTable:
		if seen[v] {
			return Nil()
		}
		seen[v] = true
		defer delete(seen, v)

		out := make(map[string]Value)
		v.ForEach(func(k, e lua.LValue) {
			key, ok := keyString(k)
			if !ok {
				return
			}
			ev := fromLua(e, seen)
			if ev.IsNil() {
				return
			}
			out[key] = ev
		})
		return Table(out)
	default:
		return Nil()
	}
}

// toLua converts a host value into a fresh interpreter value.
// resolve maps handler references back to closures; it may be nil.
func toLua(L *lua.LState, v Value, resolve func(Value) lua.LValue) lua.LValue {
	switch v.kind {
	case KindNumber:
		return lua.LNumber(v.num)
	case KindString:
		return lua.LString(v.str)
	case KindBool:
		return lua.LBool(v.boolean)
	case KindTable:
		tbl := L.NewTable()
		for k, e := range v.table {
			tbl.RawSet(luaKey(k), toLua(L, e, resolve))
		}
		return tbl
	case KindHandler:
		if resolve == nil {
			return lua.LNil
		}
		return resolve(v)
	default:
		return lua.LNil
	}
}

// keyString renders a table key. Only string and number keys survive.
func keyString(k lua.LValue) (string, bool) {
	switch t := k.(type) {
	case lua.LString:
		return string(t), true
	case lua.LNumber:
		return formatNumber(float64(t)), true
	default:
		return "", false
	}
}

// luaKey restores canonical integer keys as numbers so array-like tables
// survive a round trip.
func luaKey(k string) lua.LValue {
	if n, err := strconv.ParseInt(k, 10, 64); err == nil && strconv.FormatInt(n, 10) == k {
		return lua.LNumber(n)
	}
	return lua.LString(k)
}
