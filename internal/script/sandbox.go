package script

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/addonhost/internal/console"
)

// removedGlobals are base functions that reach the filesystem or compile
// arbitrary chunks.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"require",
	"module",
}

// openSafeLibraries opens only the libraries scripts are allowed to use.
// io, os, debug, channel and package are never opened.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// installSandbox strips unsafe globals, routes print to the console and
// teaches pairs and ipairs to honor metatables.
func installSandbox(L *lua.LState, log *console.Logger, addon string) {
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Infof("[%s] %s", addon, strings.Join(parts, " "))
		return 0
	}))

	next := L.GetGlobal("next")
	L.SetGlobal("pairs", L.NewFunction(func(L *lua.LState) int {
		v := L.CheckAny(1)
		if mf := L.GetMetaField(v, "__pairs"); mf != lua.LNil {
			L.Push(mf)
			L.Push(v)
			L.Call(1, 3)
			return 3
		}
		tb := L.CheckTable(1)
		L.Push(next)
		L.Push(tb)
		L.Push(lua.LNil)
		return 3
	}))

	iter := L.NewFunction(func(L *lua.LState) int {
		obj := L.CheckAny(1)
		i := L.CheckInt(2) + 1
		v := L.GetTable(obj, lua.LNumber(i))
		if v == lua.LNil {
			return 0
		}
		L.Push(lua.LNumber(i))
		L.Push(v)
		return 2
	})
	L.SetGlobal("ipairs", L.NewFunction(func(L *lua.LState) int {
		obj := L.CheckAny(1)
		L.Push(iter)
		L.Push(obj)
		L.Push(lua.LNumber(0))
		return 3
	}))
}
