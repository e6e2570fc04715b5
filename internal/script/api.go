package script

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/addonhost/internal/frame"
)

const frameTypeName = "Frame"

// Relative targets accepted by SetPoint that mean the root rectangle.
var rootNames = map[string]bool{
	"root":     true,
	"uiparent": true,
}

func (s *State) installAPI() {
	L := s.L

	mt := L.NewTypeMetatable(frameTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"SetSize":     s.frameSetSize,
		"GetSize":     s.frameGetSize,
		"SetWidth":    s.frameSetWidth,
		"SetHeight":   s.frameSetHeight,
		"SetPosition": s.frameSetPosition,
		"GetPosition": s.frameGetPosition,
		"SetPoint":    s.frameSetPoint,
		"Show":        s.frameShow,
		"Hide":        s.frameHide,
		"IsShown":     s.frameIsShown,
		"SetText":     s.frameSetText,
		"GetText":     s.frameGetText,
		"SetScript":   s.frameSetScript,
		"GetID":       s.frameGetID,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(s.frameToString))

	L.SetGlobal("createFrame", L.NewFunction(s.apiCreateFrame))
	L.SetGlobal("registerEvent", L.NewFunction(s.apiRegisterEvent))
	L.SetGlobal("unregisterEvent", L.NewFunction(s.apiUnregisterEvent))

	s.addonTbl = L.NewTable()
	s.addonTbl.RawSetString("name", lua.LString(s.name))
	L.SetGlobal("addon", s.addonTbl)
}

// handle returns the unique script handle for a frame.
func (s *State) handle(id frame.ID) *lua.LUserData {
	if ud, ok := s.handles[id]; ok {
		return ud
	}
	ud := s.L.NewUserData()
	ud.Value = id
	s.L.SetMetatable(ud, s.L.GetTypeMetatable(frameTypeName))
	s.handles[id] = ud
	return ud
}

func (s *State) checkFrame(L *lua.LState, n int) frame.ID {
	ud := L.CheckUserData(n)
	id, ok := ud.Value.(frame.ID)
	if !ok {
		L.ArgError(n, "frame expected")
	}
	return id
}

func (s *State) currentFrame(L *lua.LState, id frame.ID) frame.Frame {
	f, ok := s.frames.Get(id)
	if !ok {
		L.RaiseError("%s: %v", id, frame.ErrFrameNotFound)
	}
	return f
}

func (s *State) update(L *lua.LState, id frame.ID, fn func(*frame.Frame)) {
	if _, err := s.frames.Update(id, fn); err != nil {
		L.RaiseError("%v", err)
	}
}

// createFrame([name]) -> frame
func (s *State) apiCreateFrame(L *lua.LState) int {
	name := L.OptString(1, "")
	f := s.frames.Create(s.Owner())
	h := s.handle(f.ID)
	if name != "" {
		L.SetGlobal(name, h)
	}
	s.log.Debugf("%s created %s", s.name, f.ID)
	L.Push(h)
	return 1
}

// registerEvent(event, fn)
func (s *State) apiRegisterEvent(L *lua.LState) int {
	event := L.CheckString(1)
	fn := L.CheckFunction(2)
	s.handlers.subscribe(event, fn)
	return 0
}

// unregisterEvent(event) -> removed count
func (s *State) apiUnregisterEvent(L *lua.LState) int {
	event := L.CheckString(1)
	L.Push(lua.LNumber(s.handlers.unsubscribe(event)))
	return 1
}

func (s *State) frameSetSize(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	w := checkDimension(L, 2)
	h := checkDimension(L, 3)
	s.update(L, id, func(f *frame.Frame) {
		f.Width, f.Height = w, h
	})
	return 0
}

func (s *State) frameSetWidth(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	w := checkDimension(L, 2)
	s.update(L, id, func(f *frame.Frame) {
		f.Width = w
	})
	return 0
}

func (s *State) frameSetHeight(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	h := checkDimension(L, 2)
	s.update(L, id, func(f *frame.Frame) {
		f.Height = h
	})
	return 0
}

func (s *State) frameGetSize(L *lua.LState) int {
	f := s.currentFrame(L, s.checkFrame(L, 1))
	L.Push(lua.LNumber(f.Width))
	L.Push(lua.LNumber(f.Height))
	return 2
}

func (s *State) frameSetPosition(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	x := float64(L.CheckNumber(2))
	y := float64(L.CheckNumber(3))
	s.update(L, id, func(f *frame.Frame) {
		f.X, f.Y = x, y
	})
	return 0
}

func (s *State) frameGetPosition(L *lua.LState) int {
	f := s.currentFrame(L, s.checkFrame(L, 1))
	L.Push(lua.LNumber(f.X))
	L.Push(lua.LNumber(f.Y))
	return 2
}

// SetPoint(point [, relativeTo [, relativePoint]] [, x, y])
//
// relativeTo is a frame, nil, or "root"/"UIParent". The anchor is resolved
// once, against the geometry at call time.
func (s *State) frameSetPoint(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	point, err := frame.ParseAnchorPoint(L.CheckString(2))
	if err != nil {
		L.ArgError(2, err.Error())
	}

	anchor := frame.Anchor{Point: point, RelativePoint: point}
	rel := s.frames.Root()

	if _, ok := L.Get(3).(lua.LNumber); ok {
		// SetPoint(point, x, y)
		anchor.OffsetX = float64(L.CheckNumber(3))
		anchor.OffsetY = float64(L.OptNumber(4, 0))
	} else {
		rel = s.relativeRect(L, 3, rel)
		if str, ok := L.Get(4).(lua.LString); ok {
			rp, err := frame.ParseAnchorPoint(string(str))
			if err != nil {
				L.ArgError(4, err.Error())
			}
			anchor.RelativePoint = rp
		}
		anchor.OffsetX = float64(L.OptNumber(5, 0))
		anchor.OffsetY = float64(L.OptNumber(6, 0))
	}

	self := s.currentFrame(L, id)
	x, y := anchor.Resolve(rel, self.Width, self.Height)
	s.update(L, id, func(f *frame.Frame) {
		f.X, f.Y = x, y
	})
	return 0
}

func (s *State) relativeRect(L *lua.LState, n int, root frame.Rect) frame.Rect {
	switch v := L.Get(n).(type) {
	case *lua.LNilType:
		return root
	case lua.LString:
		if rootNames[strings.ToLower(string(v))] {
			return root
		}
		if ud, ok := L.GetGlobal(string(v)).(*lua.LUserData); ok {
			if rid, ok := ud.Value.(frame.ID); ok {
				return s.currentFrame(L, rid).Bounds()
			}
		}
		L.ArgError(n, "unknown frame "+string(v))
	case *lua.LUserData:
		rid, ok := v.Value.(frame.ID)
		if !ok {
			L.ArgError(n, "frame expected")
		}
		return s.currentFrame(L, rid).Bounds()
	default:
		L.ArgError(n, "frame, name or nil expected")
	}
	return root
}

func (s *State) frameShow(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	s.update(L, id, func(f *frame.Frame) {
		f.Visible = true
	})
	return 0
}

func (s *State) frameHide(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	s.update(L, id, func(f *frame.Frame) {
		f.Visible = false
	})
	return 0
}

func (s *State) frameIsShown(L *lua.LState) int {
	f := s.currentFrame(L, s.checkFrame(L, 1))
	L.Push(lua.LBool(f.Visible))
	return 1
}

func (s *State) frameSetText(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	text := ""
	if v := L.Get(2); v != lua.LNil {
		text = L.ToStringMeta(v).String()
	}
	s.update(L, id, func(f *frame.Frame) {
		f.Text = text
	})
	return 0
}

func (s *State) frameGetText(L *lua.LState) int {
	f := s.currentFrame(L, s.checkFrame(L, 1))
	L.Push(lua.LString(f.Text))
	return 1
}

// SetScript("OnClick", fn|nil)
func (s *State) frameSetScript(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	kind := L.CheckString(2)
	if !strings.EqualFold(kind, "OnClick") {
		L.ArgError(2, "unsupported script type "+kind)
	}
	fn := L.OptFunction(3, nil)

	old := s.currentFrame(L, id).OnClick
	var ref frame.HandlerRef
	if fn != nil {
		ref = frame.HandlerRef{Instance: s.instance, Token: s.handlers.add(fn)}
	}
	s.update(L, id, func(f *frame.Frame) {
		f.OnClick = ref
	})
	if !old.IsZero() && old.Instance == s.instance {
		s.handlers.release(old.Token)
	}
	return 0
}

func (s *State) frameGetID(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	L.Push(lua.LNumber(id))
	return 1
}

func (s *State) frameToString(L *lua.LState) int {
	id := s.checkFrame(L, 1)
	L.Push(lua.LString(frameTypeName + "(" + id.String() + ")"))
	return 1
}

func checkDimension(L *lua.LState, n int) float64 {
	v := float64(L.CheckNumber(n))
	if err := frame.CheckSize(v, 0); err != nil {
		L.ArgError(n, err.Error())
	}
	return v
}
