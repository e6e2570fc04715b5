package script

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/frame"
)

// Lifecycle hook names looked up on the addon table.
const (
	HookInitialize = "OnInitialize"
	HookEnable     = "OnEnable"
)

// Options configures a State.
type Options struct {
	// Name is the owning addon name.
	Name string

	// Instance identifies this load of the addon. A fresh id is
	// generated when empty.
	Instance string

	// Frames receives frames created by scripts. A private registry is
	// used when nil.
	Frames *frame.Registry

	// Logger receives print output and script diagnostics.
	Logger *console.Logger

	// Persisted seeds the persisted table.
	Persisted map[string]Value

	// OnPersistedChange is called synchronously after every write to the
	// persisted table, including nested tables.
	OnPersistedChange func(addon string)

	// ExecTimeout bounds each top-level call. Zero disables the limit.
	ExecTimeout time.Duration
}

// State is the sandboxed interpreter of one addon.
//
// gopher-lua's LState is not goroutine-safe; every exported method takes
// the state mutex.
type State struct {
	L *lua.LState

	mu sync.Mutex

	name     string
	instance string
	frames   *frame.Registry
	log      *console.Logger
	timeout  time.Duration
	onChange func(string)

	handlers  *handlerTable
	persisted *persistedTable
	handles   map[frame.ID]*lua.LUserData
	addonTbl  *lua.LTable

	closed bool
}

// NewState creates a sandboxed state with the host API installed.
func NewState(opts Options) (*State, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("script: addon name is required")
	}
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	if opts.Frames == nil {
		opts.Frames = frame.NewRegistry(0, 0)
	}
	if opts.Logger == nil {
		opts.Logger = console.Discard()
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	s := &State{
		L:        L,
		name:     opts.Name,
		instance: opts.Instance,
		frames:   opts.Frames,
		log:      opts.Logger,
		timeout:  opts.ExecTimeout,
		onChange: opts.OnPersistedChange,
		handlers: newHandlerTable(),
		handles:  make(map[frame.ID]*lua.LUserData),
	}

	openSafeLibraries(L)
	installSandbox(L, s.log, s.name)
	s.installAPI()
	s.persisted = newPersistedTable(L, opts.Persisted, s.notifyPersisted)
	L.SetGlobal("persisted", s.persisted.root)

	return s, nil
}

// Name returns the owning addon name.
func (s *State) Name() string {
	return s.name
}

// Instance returns the id of this load.
func (s *State) Instance() string {
	return s.instance
}

// Owner returns the frame owner used for frames created by this state.
func (s *State) Owner() frame.Owner {
	return frame.Owner{Name: s.name, Instance: s.instance}
}

// DoFile executes a script file.
func (s *State) DoFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if err := s.run(ctx, func() error {
		return s.L.DoFile(path)
	}); err != nil {
		return &ScriptError{Addon: s.name, Source: path, Err: err}
	}
	return nil
}

// DoString executes script text. chunk names the source in errors.
func (s *State) DoString(ctx context.Context, chunk, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if err := s.run(ctx, func() error {
		fn, err := s.L.Load(strings.NewReader(code), chunk)
		if err != nil {
			return err
		}
		s.L.Push(fn)
		return s.L.PCall(0, lua.MultRet, nil)
	}); err != nil {
		return &ScriptError{Addon: s.name, Source: chunk, Err: err}
	}
	return nil
}

// Dispatch invokes every handler registered for event, in registration
// order. A failing handler does not stop the remaining ones.
func (s *State) Dispatch(ctx context.Context, event string, args ...Value) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var errs []error
	for _, tok := range s.handlers.subscribers(event) {
		fn, ok := s.handlers.get(tok)
		if !ok {
			// unregistered by an earlier handler
			continue
		}
		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			largs[i] = toLua(s.L, a, s.resolve)
		}
		if err := s.call(ctx, fn, largs...); err != nil {
			errs = append(errs, &ScriptError{Addon: s.name, Source: "event " + event, Err: err})
		}
	}
	return errs
}

// HandlerCount returns the number of registrations for event.
func (s *State) HandlerCount(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers.count(event)
}

// Events returns the names of events with at least one registration.
func (s *State) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers.eventNames()
}

// Call invokes the closure behind ref with args.
func (s *State) Call(ctx context.Context, ref frame.HandlerRef, args ...Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, err := s.lookup(ref)
	if err != nil {
		return err
	}
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLua(s.L, a, s.resolve)
	}
	if err := s.call(ctx, fn, largs...); err != nil {
		return &ScriptError{Addon: s.name, Source: fmt.Sprintf("handler %d", ref.Token), Err: err}
	}
	return nil
}

// Click runs a frame's click handler with the frame handle as self.
func (s *State) Click(ctx context.Context, id frame.ID, ref frame.HandlerRef, button string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, err := s.lookup(ref)
	if err != nil {
		return err
	}
	if err := s.call(ctx, fn, s.handle(id), lua.LString(button)); err != nil {
		return &ScriptError{Addon: s.name, Source: id.String() + " OnClick", Err: err}
	}
	return nil
}

// CallLifecycle calls addon:<hook>() when the script defined it.
// Reports whether the hook existed.
func (s *State) CallLifecycle(ctx context.Context, hook string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStateClosed
	}

	fn, ok := s.addonTbl.RawGetString(hook).(*lua.LFunction)
	if !ok {
		return false, nil
	}
	if err := s.call(ctx, fn, s.addonTbl); err != nil {
		return true, &ScriptError{Addon: s.name, Source: hook, Err: err}
	}
	return true, nil
}

// ExposeFrame binds a global name to the handle of an existing frame.
func (s *State) ExposeFrame(name string, id frame.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	if name == "" {
		return nil
	}
	s.L.SetGlobal(name, s.handle(id))
	return nil
}

// PersistedSnapshot returns a deep copy of the persisted table.
// It waits for any running script, so the copy is never torn.
func (s *State) PersistedSnapshot() map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted.snapshot()
}

// GetGlobal returns a global as a host value. Functions are returned as
// handler references usable with Call.
func (s *State) GetGlobal(name string) Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Nil()
	}
	lv := s.L.GetGlobal(name)
	if fn, ok := lv.(*lua.LFunction); ok {
		return Handler(frame.HandlerRef{Instance: s.instance, Token: s.handlers.export(fn)})
	}
	return fromLua(lv, make(map[*lua.LTable]bool))
}

// SetGlobal sets a global from a host value.
func (s *State) SetGlobal(name string, v Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, toLua(s.L, v, s.resolve))
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the interpreter. Later calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// run executes fn with the call timeout applied and panics recovered.
// Callers hold s.mu.
func (s *State) run(ctx context.Context, fn func() error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if ctx.Done() != nil {
		s.L.SetContext(ctx)
	}
	defer func() {
		if s.L.Context() != nil {
			s.L.RemoveContext()
		}
		s.L.SetTop(0)
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}()
	return fn()
}

func (s *State) call(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) error {
	return s.run(ctx, func() error {
		s.L.Push(fn)
		for _, a := range args {
			s.L.Push(a)
		}
		return s.L.PCall(len(args), 0, nil)
	})
}

func (s *State) lookup(ref frame.HandlerRef) (*lua.LFunction, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	if ref.Instance != s.instance {
		return nil, fmt.Errorf("%w: instance %q", ErrHandlerNotFound, ref.Instance)
	}
	fn, ok := s.handlers.get(ref.Token)
	if !ok {
		return nil, fmt.Errorf("%w: token %d", ErrHandlerNotFound, ref.Token)
	}
	return fn, nil
}

func (s *State) resolve(v Value) lua.LValue {
	ref, _ := v.AsHandler()
	if ref.Instance != s.instance {
		return lua.LNil
	}
	if fn, ok := s.handlers.get(ref.Token); ok {
		return fn
	}
	return lua.LNil
}

func (s *State) notifyPersisted() {
	if s.onChange != nil {
		s.onChange(s.name)
	}
}
