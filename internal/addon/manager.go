package addon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/event"
	"github.com/dshills/addonhost/internal/frame"
	"github.com/dshills/addonhost/internal/persist"
	"github.com/dshills/addonhost/internal/script"
	"github.com/dshills/addonhost/internal/ui"
)

// ManagerConfig configures the addon manager.
type ManagerConfig struct {
	// AddonsDir holds one subfolder per addon. Used by LoadAll.
	AddonsDir string

	// Resolver finds addon files. NewResolver() when nil.
	Resolver *Resolver

	// ExecTimeout bounds each script call. Zero disables it.
	ExecTimeout time.Duration
}

// Manager loads addons and owns the addon registry.
type Manager struct {
	mu sync.RWMutex

	// Loaded addons by name
	addons map[string]*Addon

	// Load order (for deterministic iteration)
	loadOrder []string

	// States still running their load pipeline, by name. Persisted saves
	// scheduled during a load read from here.
	loading map[string]*script.State

	// Event handlers (protected by mu)
	eventHandlers []EventHandler

	config   ManagerConfig
	resolver *Resolver
	frames   *frame.Registry
	store    *persist.Store
	ui       *ui.Instantiator
	log      *console.Logger
}

// NewManager creates a manager. The manager becomes the store's table
// source.
func NewManager(config ManagerConfig, frames *frame.Registry, store *persist.Store, log *console.Logger) *Manager {
	if config.Resolver == nil {
		config.Resolver = NewResolver()
	}
	if log == nil {
		log = console.Discard()
	}

	m := &Manager{
		addons:    make(map[string]*Addon),
		loadOrder: make([]string, 0),
		loading:   make(map[string]*script.State),
		config:    config,
		resolver:  config.Resolver,
		frames:    frames,
		store:     store,
		ui:        ui.New(frames, log.WithComponent("ui")),
		log:       log,
	}
	store.SetSource(m)
	return m
}

// Load runs the load pipeline for the addon folder dir. Loading a name
// that is already loaded replaces the old instance; its frames are
// removed and its sandbox closed.
//
// Only a folder that cannot be loaded at all returns an error. Script,
// UI and persistence failures are logged and recorded in Addon.Errors.
func (m *Manager) Load(ctx context.Context, dir string) (*Addon, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, m.fail(filepath.Base(dir), err)
	}
	name := filepath.Base(abs)
	if err := persist.ValidateName(name); err != nil {
		return nil, m.fail(name, &ResolveError{Addon: name, Path: abs, Err: err})
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, m.fail(name, &ResolveError{Addon: name, Path: abs, Err: err})
	}
	if !info.IsDir() {
		return nil, m.fail(name, &ResolveError{Addon: name, Path: abs, Err: ErrNotDirectory})
	}

	m.log.Infof("Loading addon %s from %s", name, abs)
	a := &Addon{Name: name, Dir: abs}

	// The previous instance's pending save must land before its record
	// is read back for the new instance.
	if err := m.store.Flush(name); err != nil {
		a.Errors = append(a.Errors, m.warn(err))
	}
	values, err := m.store.Load(name)
	if err != nil {
		a.Errors = append(a.Errors, m.warn(err))
		values = nil
	}
	m.ui.Forget(abs)

	st, err := script.NewState(script.Options{
		Name:              name,
		Frames:            m.frames,
		Logger:            m.log,
		Persisted:         values,
		OnPersistedChange: m.store.Notify,
		ExecTimeout:       m.config.ExecTimeout,
	})
	if err != nil {
		return nil, m.fail(name, err)
	}
	a.State = st
	a.Instance = st.Instance()

	m.mu.Lock()
	m.loading[name] = st
	m.mu.Unlock()

	m.runScripts(ctx, a)
	m.runUI(a)
	m.runLifecycle(ctx, a)

	a.LoadedAt = time.Now()
	old := m.register(a)
	if old != nil {
		m.retire(old)
		m.log.Infof("Reloaded addon %s", name)
		m.emitEvent(ManagerEvent{Type: EventAddonReloaded, Addon: name})
	} else {
		m.log.Infof("Loaded addon %s", name)
		m.emitEvent(ManagerEvent{Type: EventAddonLoaded, Addon: name})
	}
	if len(a.Errors) > 0 {
		m.log.Warnf("Addon %s loaded with %d error(s)", name, len(a.Errors))
	}
	return a, nil
}

// runScripts executes library files, then the resolved script files.
func (m *Manager) runScripts(ctx context.Context, a *Addon) {
	libs, err := m.resolver.Libraries(a.Dir)
	if err != nil {
		a.Errors = append(a.Errors, m.warn(err))
	}
	a.Libraries = libs
	for _, path := range libs {
		m.exec(ctx, a, path)
	}

	res, err := m.resolver.Resolve(a.Dir)
	if err != nil {
		a.Errors = append(a.Errors, m.warn(err))
		return
	}
	for _, w := range res.Warnings {
		a.Errors = append(a.Errors, m.warn(w))
	}
	a.Manifest = res.Manifest
	a.Files = res.Files
	if res.Manifest != "" {
		m.log.Debugf("Using manifest %s", res.Manifest)
	}
	for _, path := range res.Files {
		m.exec(ctx, a, path)
	}
}

func (m *Manager) exec(ctx context.Context, a *Addon, path string) {
	m.log.Infof("Executing %s", path)
	if err := a.State.DoFile(ctx, path); err != nil {
		m.log.Errorf("%v", err)
		a.Errors = append(a.Errors, err)
	}
}

// runUI instantiates the addon's declarative UI files.
func (m *Manager) runUI(a *Addon) {
	files, err := m.resolver.UIFiles(a.Dir)
	if err != nil {
		a.Errors = append(a.Errors, m.warn(err))
		return
	}
	a.UIFiles = files
	for _, path := range files {
		m.log.Infof("Loading UI %s", path)
		ids, err := m.ui.LoadFile(a.Dir, path, a.State.Owner(), a.State)
		if err != nil {
			// element failures were logged by the instantiator
			a.Errors = append(a.Errors, err)
		}
		m.log.Debugf("%s: %d frame(s)", path, len(ids))
	}
}

// runLifecycle calls OnInitialize then OnEnable.
func (m *Manager) runLifecycle(ctx context.Context, a *Addon) {
	for _, hook := range []string{script.HookInitialize, script.HookEnable} {
		ok, err := a.State.CallLifecycle(ctx, hook)
		if err != nil {
			m.log.Errorf("%v", err)
			a.Errors = append(a.Errors, err)
			continue
		}
		if ok {
			m.log.Debugf("%s: %s done", a.Name, hook)
		}
	}
}

// register installs a and returns the instance it replaced, if any.
func (m *Manager) register(a *Addon) *Addon {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.loading, a.Name)
	old := m.addons[a.Name]
	m.addons[a.Name] = a
	if old == nil {
		m.loadOrder = append(m.loadOrder, a.Name)
	}
	return old
}

// retire purges the frames of a replaced or unloaded instance and closes
// its sandbox. Callers must not hold m.mu.
func (m *Manager) retire(a *Addon) {
	if n := m.frames.RemoveOwner(a.Instance); n > 0 {
		m.log.Debugf("Removed %d frame(s) of %s", n, a.Name)
	}
	if err := a.State.Close(); err != nil {
		m.log.Warnf("closing %s: %v", a.Name, err)
	}
}

// LoadAll loads every subfolder of the addons directory in name order.
func (m *Manager) LoadAll(ctx context.Context) error {
	dir := m.config.AddonsDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		err = &ResolveError{Addon: "*", Path: dir, Err: err}
		m.log.Errorf("%v", err)
		return err
	}

	var loadErrors []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := m.Load(ctx, filepath.Join(dir, e.Name())); err != nil {
			loadErrors = append(loadErrors, err)
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("failed to load %d addons: %w", len(loadErrors), errors.Join(loadErrors...))
	}
	return nil
}

// Unload flushes the addon's persisted record, removes its frames and
// closes its sandbox.
func (m *Manager) Unload(name string) error {
	m.mu.RLock()
	_, exists := m.addons[name]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("addon %q: %w", name, ErrAddonNotFound)
	}

	// flush while the addon is still the store's source
	flushErr := m.store.Flush(name)
	if flushErr != nil {
		m.log.Warnf("%v", flushErr)
	}

	m.mu.Lock()
	a, exists := m.addons[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("addon %q: %w", name, ErrAddonNotFound)
	}
	delete(m.addons, name)
	m.removeFromLoadOrder(name)
	m.mu.Unlock()

	m.retire(a)
	m.ui.Forget(a.Dir)
	m.log.Infof("Unloaded addon %s", name)
	m.emitEvent(ManagerEvent{Type: EventAddonUnloaded, Addon: name})
	return flushErr
}

// Get returns a loaded addon by name.
func (m *Manager) Get(name string) (*Addon, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, exists := m.addons[name]
	return a, exists
}

// List returns loaded addons in load order.
func (m *Manager) List() []*Addon {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Addon, 0, len(m.loadOrder))
	for _, name := range m.loadOrder {
		if a, exists := m.addons[name]; exists {
			result = append(result, a)
		}
	}
	return result
}

// Count returns the number of loaded addons.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.addons)
}

// Subscribers returns the sandboxes of loaded addons in load order.
// It makes the manager an event.Source.
func (m *Manager) Subscribers() []event.Subscriber {
	addons := m.List()
	subs := make([]event.Subscriber, len(addons))
	for i, a := range addons {
		subs[i] = a.State
	}
	return subs
}

// Snapshot returns the persisted table of the named addon. It makes the
// manager a persist.Source.
func (m *Manager) Snapshot(name string) (map[string]script.Value, bool) {
	m.mu.RLock()
	st, ok := m.loading[name]
	if !ok {
		if a, exists := m.addons[name]; exists {
			st, ok = a.State, true
		}
	}
	m.mu.RUnlock()

	if !ok || st.IsClosed() {
		return nil, false
	}
	return st.PersistedSnapshot(), true
}

// Click runs the click handler of frame id in its owning sandbox.
func (m *Manager) Click(ctx context.Context, id frame.ID, button string) error {
	f, ok := m.frames.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", frame.ErrFrameNotFound, id)
	}
	if f.OnClick.IsZero() {
		return fmt.Errorf("%s: %w", id, ErrNoClickHandler)
	}

	m.mu.RLock()
	a, exists := m.addons[f.Owner.Name]
	m.mu.RUnlock()
	if !exists || a.Instance != f.Owner.Instance {
		return fmt.Errorf("%s: %w", id, ErrStaleFrame)
	}
	return a.State.Click(ctx, id, f.OnClick, button)
}

// ClickAt hit-tests (x, y) and clicks the topmost frame there.
func (m *Manager) ClickAt(ctx context.Context, x, y float64, button string) (frame.ID, error) {
	f, ok := m.frames.HitTest(x, y)
	if !ok {
		return 0, fmt.Errorf("%w at (%g, %g)", frame.ErrFrameNotFound, x, y)
	}
	return f.ID, m.Click(ctx, f.ID, button)
}

// Shutdown flushes every pending save, then unloads all addons in
// reverse load order.
func (m *Manager) Shutdown() error {
	var errs []error
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	addons := make([]*Addon, 0, len(m.loadOrder))
	for _, name := range slices.Backward(m.loadOrder) {
		if a, ok := m.addons[name]; ok {
			addons = append(addons, a)
		}
	}
	m.addons = make(map[string]*Addon)
	m.loadOrder = m.loadOrder[:0]
	m.mu.Unlock()

	for _, a := range addons {
		m.retire(a)
		m.emitEvent(ManagerEvent{Type: EventAddonUnloaded, Addon: a.Name})
	}
	m.log.Infof("Shut down %d addon(s)", len(addons))
	return errors.Join(errs...)
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// nil out rather than remove so other indexes stay valid
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

// emitEvent sends an event to all handlers outside the lock.
func (m *Manager) emitEvent(ev ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Errorf("addon event handler panicked: %v", r)
				}
			}()
			handler(ev)
		}()
	}
}

// fail logs a fatal load error and emits EventAddonError.
func (m *Manager) fail(name string, err error) error {
	m.log.Errorf("Failed to load addon %s: %v", name, err)
	m.emitEvent(ManagerEvent{Type: EventAddonError, Addon: name, Error: err})
	return err
}

func (m *Manager) warn(err error) error {
	m.log.Warnf("%v", err)
	return err
}

func (m *Manager) removeFromLoadOrder(name string) {
	for i, n := range m.loadOrder {
		if n == name {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			return
		}
	}
}
