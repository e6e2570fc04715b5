// Package persist keeps each addon's persisted variables on disk.
//
// A Store writes one record per addon name into its data directory. Writes
// are triggered by change notifications and debounced per addon: a burst of
// notifications inside the window produces a single write of the table as
// it is when the timer fires.
package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/script"
)

// DefaultDebounce is the save window used when Options.Debounce is zero.
const DefaultDebounce = 2 * time.Second

// Source supplies the current persisted table of a loaded addon.
type Source interface {
	// Snapshot returns a copy of the addon's table, or false when the
	// addon is not loaded.
	Snapshot(addon string) (map[string]script.Value, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(addon string) (map[string]script.Value, bool)

// Snapshot implements Source.
func (f SourceFunc) Snapshot(addon string) (map[string]script.Value, bool) {
	return f(addon)
}

// Options configures a Store.
type Options struct {
	// Dir is the directory records are written to.
	Dir string
	// Format selects the record codec: "toml" (default) or "yaml".
	Format string
	// Debounce is the window used by Notify.
	Debounce time.Duration
	// FS overrides the file system. Defaults to OSFS.
	FS FileSystem
	// Source supplies tables at save time. It can be set later with SetSource.
	Source Source
	// Logger receives save and load status lines.
	Logger *console.Logger
}

// pending is a scheduled save. Identity matters: a timer that fires after
// being superseded finds a different record in the map and does nothing.
type pending struct {
	timer *time.Timer
}

// Store is the persisted-variables store. It is safe for concurrent use.
type Store struct {
	dir    string
	codec  Codec
	fs     FileSystem
	log    *console.Logger
	window time.Duration

	mu       sync.Mutex
	idle     *sync.Cond
	source   Source
	pending  map[string]*pending
	inflight map[string]int
	closed   bool

	// writeMu orders snapshot-then-write sequences so a later snapshot is
	// never overwritten by an earlier one.
	writeMu sync.Mutex
}

// NewStore creates a store.
func NewStore(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("persist: data directory is required")
	}
	codec, err := CodecFor(opts.Format)
	if err != nil {
		return nil, err
	}
	if opts.FS == nil {
		opts.FS = OSFS{}
	}
	if opts.Logger == nil {
		opts.Logger = console.Discard()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	s := &Store{
		dir:      opts.Dir,
		codec:    codec,
		fs:       opts.FS,
		log:      opts.Logger,
		window:   opts.Debounce,
		source:   opts.Source,
		pending:  make(map[string]*pending),
		inflight: make(map[string]int),
	}
	s.idle = sync.NewCond(&s.mu)
	return s, nil
}

// SetSource installs the table source used at save time.
func (s *Store) SetSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// Path returns the record file for an addon.
func (s *Store) Path(addon string) (string, error) {
	if err := ValidateName(addon); err != nil {
		return "", fmt.Errorf("%w: %q", err, addon)
	}
	return filepath.Join(s.dir, addon+s.codec.Ext()), nil
}

// Load returns the saved record for addon, or an empty map when none exists.
func (s *Store) Load(addon string) (map[string]script.Value, error) {
	path, err := s.Path(addon)
	if err != nil {
		return nil, &StoreError{Op: "load", Addon: addon, Err: err}
	}

	data, err := s.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]script.Value{}, nil
		}
		return nil, &StoreError{Op: "load", Addon: addon, Err: err}
	}

	record, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, &StoreError{Op: "load", Addon: addon, Err: err}
	}
	values, err := script.FromGoMap(record)
	if err != nil {
		return nil, &StoreError{Op: "load", Addon: addon, Err: err}
	}
	return values, nil
}

// Save snapshots the addon's current table and writes it. An addon that
// is no longer loaded is skipped.
func (s *Store) Save(addon string) error {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src == nil {
		return &StoreError{Op: "save", Addon: addon, Err: errors.New("no source")}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	values, ok := src.Snapshot(addon)
	if !ok {
		s.log.Debugf("skip save of %s: not loaded", addon)
		return nil
	}
	return s.write(addon, values)
}

// Write stores values as the addon's record.
func (s *Store) Write(addon string, values map[string]script.Value) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.write(addon, values)
}

func (s *Store) write(addon string, values map[string]script.Value) error {
	path, err := s.Path(addon)
	if err != nil {
		return &StoreError{Op: "save", Addon: addon, Err: err}
	}

	data, err := s.codec.Marshal(script.ToGoMap(values))
	if err != nil {
		return &StoreError{Op: "save", Addon: addon, Err: err}
	}
	if err := s.fs.MkdirAll(s.dir); err != nil {
		return &StoreError{Op: "save", Addon: addon, Err: err}
	}
	if err := s.fs.WriteFile(path, data); err != nil {
		return &StoreError{Op: "save", Addon: addon, Err: err}
	}

	s.log.Debugf("saved %s (%d keys)", path, len(values))
	return nil
}

// Notify schedules a save of addon with the store's debounce window.
func (s *Store) Notify(addon string) {
	s.ScheduleSave(addon, s.window)
}

// ScheduleSave starts the addon's save timer, or restarts it when one is
// already pending. Timers of different addons are independent.
func (s *Store) ScheduleSave(addon string, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if old, ok := s.pending[addon]; ok {
		old.timer.Stop()
	}

	p := &pending{}
	s.pending[addon] = p
	p.timer = time.AfterFunc(window, func() {
		s.fire(addon, p)
	})
}

func (s *Store) fire(addon string, p *pending) {
	s.mu.Lock()
	if s.pending[addon] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, addon)
	s.inflight[addon]++
	s.mu.Unlock()

	if err := s.Save(addon); err != nil {
		s.log.Errorf("%v", err)
	}

	s.mu.Lock()
	if s.inflight[addon]--; s.inflight[addon] <= 0 {
		delete(s.inflight, addon)
	}
	s.idle.Broadcast()
	s.mu.Unlock()
}

// Pending reports whether a save of addon is scheduled.
func (s *Store) Pending(addon string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[addon]
	return ok
}

// Flush performs the addon's scheduled save now. It waits for a save that
// is already running and does nothing when none is scheduled.
func (s *Store) Flush(addon string) error {
	s.mu.Lock()
	for s.inflight[addon] > 0 {
		s.idle.Wait()
	}
	p, ok := s.pending[addon]
	if ok {
		p.timer.Stop()
		delete(s.pending, addon)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Save(addon)
}

// FlushAll flushes every scheduled save.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	names := make([]string, 0, len(s.pending))
	for name := range s.pending {
		names = append(names, name)
	}
	s.mu.Unlock()
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err := s.Flush(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting new saves and flushes the pending ones.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.FlushAll()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.inflight) > 0 {
		s.idle.Wait()
	}
	return err
}
