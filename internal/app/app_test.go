package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/addonhost/internal/config"
	"github.com/dshills/addonhost/internal/console"
	"github.com/dshills/addonhost/internal/frame"
	"github.com/dshills/addonhost/internal/script"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.AddonsDir = filepath.Join(root, "addons")
	cfg.DataDir = filepath.Join(root, "data")
	cfg.SaveDebounce = config.Duration(time.Hour)
	cfg.WatchDebounce = config.Duration(50 * time.Millisecond)
	return cfg
}

type countingPresenter struct {
	updates, removes int
}

func (p *countingPresenter) UpdateVisual(frame.Frame) { p.updates++ }
func (p *countingPresenter) RemoveVisual(frame.ID)    { p.removes++ }

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.PersistFormat = "json"

	_, err := New(Options{Config: cfg})
	var ie *InitError
	if !errors.As(err, &ie) || ie.Component != "config" {
		t.Errorf("New() error = %v, want config InitError", err)
	}
}

func TestRunLoadsDispatchesAndPersists(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.AddonsDir, "Counter", "Counter.manifest"), "main.script\n")
	writeFile(t, filepath.Join(cfg.AddonsDir, "Counter", "main.script"), `
		createFrame("CounterFrame")
		registerEvent("TICK", function(step)
			persisted.total = (persisted.total or 0) + step
		end)
	`)

	rec := &console.Recorder{}
	log := console.New(console.LevelDebug)
	log.Subscribe(rec.Record)
	presenter := &countingPresenter{}

	application, err := New(Options{Config: cfg, Logger: log, Presenter: presenter})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- application.Run(ctx) }()

	waitFor(t, func() bool { return application.Addons().Count() == 1 })

	for range 3 {
		if err := application.Dispatch(ctx, "TICK", script.Number(2)); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}
	if !application.Store().Pending("Counter") {
		t.Error("persisted write did not schedule a save")
	}

	application.Shutdown()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after Shutdown()")
	}

	values, err := application.Store().Load("Counter")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := values["total"].AsNumber(); n != 6 {
		t.Errorf("total = %v, want 6", values["total"])
	}
	if application.Frames().Len() != 0 {
		t.Errorf("frames left after shutdown = %d", application.Frames().Len())
	}
	if presenter.updates == 0 || presenter.removes != 1 {
		t.Errorf("presenter updates=%d removes=%d", presenter.updates, presenter.removes)
	}
	if m := application.Metrics().Snapshot(); m.Loads != 1 || m.Unloads != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if !rec.Contains("Executing") {
		t.Error("no Executing line logged")
	}
}

func TestRunTwice(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.AddonsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	application, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- application.Run(ctx) }()
	waitFor(t, application.IsRunning)

	if err := application.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
	cancel()
	if err := <-result; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestWatchReloadsChangedAddon(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch = true
	mainPath := filepath.Join(cfg.AddonsDir, "Foo", "main.script")
	writeFile(t, mainPath, `Version = 1`)

	application, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- application.Run(ctx) }()
	waitFor(t, func() bool { return application.Addons().Count() == 1 })
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	writeFile(t, mainPath, `Version = 2`)
	waitFor(t, func() bool { return application.Metrics().Snapshot().Reloads >= 1 })

	a, ok := application.Addons().Get("Foo")
	if !ok {
		t.Fatal("Foo not loaded")
	}
	if n, _ := a.State.GetGlobal("Version").AsNumber(); n != 2 {
		t.Errorf("Version = %v, want 2", n)
	}

	cancel()
	if err := <-result; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}
