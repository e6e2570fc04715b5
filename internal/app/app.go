// Package app wires the addon host together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dshills/addonhost/internal/addon"
	"github.com/dshills/addonhost/internal/config"
	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/event"
	"github.com/dshills/addonhost/internal/frame"
	"github.com/dshills/addonhost/internal/persist"
	"github.com/dshills/addonhost/internal/script"
	"github.com/dshills/addonhost/internal/watch"
)

// Application is the central coordinator for all host components.
type Application struct {
	mu sync.Mutex

	config config.Config
	log    *console.Logger

	frames  *frame.Registry
	store   *persist.Store
	addons  *addon.Manager
	bus     *event.Bus
	watcher *watch.Watcher
	metrics *Metrics

	// State
	running atomic.Bool
	ready   chan struct{}
	done    chan struct{}
	stopped sync.Once
}

// Options configures the application.
type Options struct {
	// Config is the host configuration. config.Default() when zero.
	Config config.Config

	// Logger receives every status line. A logger at Config.LogLevel with
	// no subscribers is created when nil.
	Logger *console.Logger

	// Presenter is notified of frame changes.
	Presenter frame.Presenter

	// FS overrides the file system of the persisted store.
	FS persist.FileSystem
}

// New creates an application. Nothing is loaded until Run or LoadAll.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg.ScriptExt == "" {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	log := opts.Logger
	if log == nil {
		log = console.New(console.ParseLevel(cfg.LogLevel))
	}

	app := &Application{
		config:  cfg,
		log:     log,
		metrics: NewMetrics(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := app.bootstrap(opts); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap builds the components in dependency order.
func (app *Application) bootstrap(opts Options) error {
	cfg := app.config

	// 1. Frame registry
	app.frames = frame.NewRegistry(cfg.RootWidth, cfg.RootHeight)
	if opts.Presenter != nil {
		app.frames.SetPresenter(opts.Presenter)
	}

	// 2. Persisted-variables store
	store, err := persist.NewStore(persist.Options{
		Dir:      cfg.DataDir,
		Format:   cfg.PersistFormat,
		Debounce: cfg.SaveDebounce.Std(),
		FS:       opts.FS,
		Logger:   app.log.WithComponent("persist"),
	})
	if err != nil {
		return &InitError{Component: "persist", Err: err}
	}
	app.store = store

	// 3. Addon manager, the store's table source
	resolver := &addon.Resolver{
		ScriptExt:   cfg.ScriptExt,
		ManifestExt: cfg.ManifestExt,
		UIExt:       cfg.UIExt,
		LibraryDirs: cfg.LibraryDirs,
	}
	app.addons = addon.NewManager(addon.ManagerConfig{
		AddonsDir:   cfg.AddonsDir,
		Resolver:    resolver,
		ExecTimeout: cfg.ExecTimeout.Std(),
	}, app.frames, app.store, app.log)
	app.addons.Subscribe(app.metrics.Record)

	// 4. Event bus over the loaded addons
	app.bus = event.NewBus(app.addons, app.log.WithComponent("event"))
	return nil
}

// Run loads every addon, starts the folder watcher when enabled and
// blocks until ctx is done or Shutdown is called.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	if err := app.addons.LoadAll(ctx); err != nil {
		// individual failures were logged by the manager
		app.log.Warnf("%v", err)
	}

	if app.config.Watch {
		w, err := watch.New(watch.Options{
			Root:   app.config.AddonsDir,
			Window: app.config.WatchDebounce.Std(),
			Logger: app.log.WithComponent("watch"),
		}, app.addons)
		if err != nil {
			app.log.Errorf("hot reload disabled: %v", err)
		} else {
			app.mu.Lock()
			app.watcher = w
			app.mu.Unlock()
			w.Start(ctx)
			app.log.Infof("Watching %s for changes", app.config.AddonsDir)
		}
	}

	close(app.ready)

	select {
	case <-ctx.Done():
	case <-app.done:
	}
	return app.shutdown()
}

// Ready is closed once Run has loaded the addons and started the watcher.
func (app *Application) Ready() <-chan struct{} {
	return app.ready
}

// Shutdown stops a running application. Run returns once cleanup is done.
func (app *Application) Shutdown() {
	app.stopped.Do(func() { close(app.done) })
}

// shutdown stops the watcher, flushes persisted records and unloads every
// addon.
func (app *Application) shutdown() error {
	var errs []error

	app.mu.Lock()
	w := app.watcher
	app.watcher = nil
	app.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := app.addons.Shutdown(); err != nil {
		app.log.Errorf("%v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases resources of an application that was never run.
func (app *Application) Close() error {
	if app.running.Load() {
		app.Shutdown()
		return nil
	}
	return app.shutdown()
}

// Dispatch broadcasts an event to every loaded addon.
func (app *Application) Dispatch(ctx context.Context, name string, args ...script.Value) error {
	return app.bus.Dispatch(ctx, name, args...)
}

// IsRunning returns true if the application is running.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the configuration in use.
func (app *Application) Config() config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() *console.Logger {
	return app.log
}

// Addons returns the addon manager.
func (app *Application) Addons() *addon.Manager {
	return app.addons
}

// Frames returns the frame registry.
func (app *Application) Frames() *frame.Registry {
	return app.frames
}

// Store returns the persisted-variables store.
func (app *Application) Store() *persist.Store {
	return app.store
}

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus {
	return app.bus
}

// Metrics returns the lifecycle counters.
func (app *Application) Metrics() *Metrics {
	return app.metrics
}
