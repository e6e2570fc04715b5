// Package script runs addon code inside a sandboxed gopher-lua state.
//
// Each loaded addon owns exactly one State. All files of the addon execute
// against the same global environment; states never share globals.
//
// # Host API
//
// Scripts see a small, fixed vocabulary:
//
//	local f = createFrame("MyFrame")
//	f:SetSize(200, 40)
//	f:SetPoint("CENTER", nil, "CENTER", 0, -100)
//	f:SetText("hello")
//	f:SetScript("OnClick", function(self, button) print("clicked", button) end)
//
//	registerEvent("PLAYER_LOGIN", function(name) print("login", name) end)
//
//	persisted.count = (persisted.count or 0) + 1
//
//	function addon:OnInitialize() end
//	function addon:OnEnable() end
//
// Writes to the persisted table, including nested ones, are reported to
// the owner through Options.OnPersistedChange.
//
// # Values
//
// Data crossing the boundary is carried as Value, a closed tagged variant.
// Host code never holds raw interpreter values; closures are referenced by
// frame.HandlerRef and resolved through the owning State.
//
// # Concurrency
//
// A State serializes every entry point on its own mutex. Host API calls made
// by scripts run on the executing goroutine and must not call back into the
// State.
package script
