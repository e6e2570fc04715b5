// Package watch reloads addons when their folders change on disk.
//
// Every directory under the addons root is watched. A change anywhere in
// <root>/<name>/ restarts that addon's debounce timer; when the folder has
// been quiet for the window the addon is loaded again, or unloaded when
// the folder is gone.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"github.com/dshills/addonhost/internal/addon"
	"github.com/dshills/addonhost/internal/console"
)

// DefaultWindow is the quiet period used when Options.Window is zero.
const DefaultWindow = 250 * time.Millisecond

// ErrWatcherClosed is returned by operations on a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Target receives reloads. *addon.Manager satisfies it.
type Target interface {
	Load(ctx context.Context, dir string) (*addon.Addon, error)
	Unload(name string) error
}

// Options configures a Watcher.
type Options struct {
	// Root is the addons directory.
	Root string
	// Window is the per-addon quiet period.
	Window time.Duration
	// Logger receives reload status lines.
	Logger *console.Logger
}

// Watcher watches an addons directory and reloads changed addons.
type Watcher struct {
	mu sync.Mutex

	root   string
	window time.Duration
	target Target
	log    *console.Logger

	fsw       *fsnotify.Watcher
	debouncer map[string]func(func())

	// Stats
	reloads atomic.Int64
	errors  atomic.Int64

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
	// reloading counts reloads past the closed check.
	reloading sync.WaitGroup
}

// New creates a watcher over opts.Root. Call Start to begin delivering
// reloads.
func New(opts Options, target Target) (*Watcher, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = console.Discard()
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	w := &Watcher{
		root:      root,
		window:    opts.Window,
		target:    target,
		log:       opts.Logger,
		fsw:       fsw,
		debouncer: make(map[string]func(func())),
		closeCh:   make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	return w, nil
}

// Start processes file events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.processLoop(ctx)
}

// Close stops the watcher and waits for a reload already in progress.
// Reloads that come due afterwards are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.reloading.Wait()
	return w.fsw.Close()
}

// Reloads returns the number of reloads performed.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// addRecursive watches dir and every directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) processLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.errors.Add(1)
			w.log.Warnf("watch: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	name, ok := w.addonOf(ev.Name)
	if !ok {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.log.Warnf("watch %s: %v", ev.Name, err)
			}
		}
	}

	w.log.Debugf("watch: %s %s", ev.Op, ev.Name)
	w.schedule(ctx, name)
}

// addonOf maps a changed path to the addon folder it belongs to.
// Files directly in the root and hidden entries are ignored.
func (w *Watcher) addonOf(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	for _, p := range parts {
		if hidden(p) {
			return "", false
		}
	}
	if len(parts) == 1 {
		// a root entry is an addon only when it is (or was) a folder
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return "", false
		}
	}
	return parts[0], true
}

// schedule restarts the addon's quiet period.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	d, ok := w.debouncer[name]
	if !ok {
		d = debounce.New(w.window)
		w.debouncer[name] = d
	}
	w.mu.Unlock()

	d(func() { w.reload(ctx, name) })
}

func (w *Watcher) reload(ctx context.Context, name string) {
	w.mu.Lock()
	if w.closed || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.reloading.Add(1)
	w.mu.Unlock()
	defer w.reloading.Done()

	dir := filepath.Join(w.root, name)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := w.target.Unload(name); err != nil && !errors.Is(err, addon.ErrAddonNotFound) {
			w.errors.Add(1)
			w.log.Warnf("unload %s: %v", name, err)
		}
		w.reloads.Add(1)
		return
	}

	w.log.Infof("Change detected in %s, reloading", name)
	if _, err := w.target.Load(ctx, dir); err != nil {
		w.errors.Add(1)
		return
	}
	w.reloads.Add(1)
}

func hidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
