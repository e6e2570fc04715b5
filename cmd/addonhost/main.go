// Package main is the entry point for the addon host.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/dshills/addonhost/internal/app"
	"github.com/dshills/addonhost/internal/config"
	"github.com/dshills/addonhost/internal/console"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	addonsDir  string
	dataDir    string
	logLevel   string
	watch      bool
	noColor    bool
	events     []string
	once       bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	level := console.ParseLevel(cfg.LogLevel)
	log := console.New(level)
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      console.SlogLevel(level),
		TimeFormat: time.TimeOnly,
		NoColor:    opts.noColor,
	})
	log.Subscribe(console.SlogSink(slog.New(handler)))

	application, err := app.New(app.Options{Config: cfg, Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.once {
		return runOnce(ctx, application, opts.events)
	}

	if len(opts.events) > 0 {
		go func() {
			select {
			case <-application.Ready():
				fire(ctx, application, opts.events)
			case <-ctx.Done():
			}
		}()
	}
	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runOnce loads every addon, fires the requested events and exits.
func runOnce(ctx context.Context, application *app.Application, events []string) int {
	if err := application.Addons().LoadAll(ctx); err != nil {
		application.Logger().Warnf("%v", err)
	}
	fire(ctx, application, events)
	if err := application.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func fire(ctx context.Context, application *app.Application, events []string) {
	for _, name := range events {
		// failures are logged by the bus
		_ = application.Dispatch(ctx, name)
	}
}

type eventList []string

func (e *eventList) String() string { return fmt.Sprint([]string(*e)) }

func (e *eventList) Set(v string) error {
	*e = append(*e, v)
	return nil
}

func parseFlags() options {
	var opts options
	var events eventList
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.addonsDir, "addons", "", "Addons directory (overrides config)")
	flag.StringVar(&opts.dataDir, "data", "", "Persisted data directory (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.watch, "watch", false, "Reload addons when their files change")
	flag.BoolVar(&opts.noColor, "no-color", false, "Disable colored log output")
	flag.Var(&events, "event", "Event to dispatch after loading (repeatable)")
	flag.BoolVar(&opts.once, "once", false, "Load addons, dispatch events and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "addonhost - scripted addon host\n\n")
		fmt.Fprintf(os.Stderr, "Usage: addonhost [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  addonhost -addons ./addons -watch\n")
		fmt.Fprintf(os.Stderr, "  addonhost -once -event PLAYER_LOGIN\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("addonhost %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	switch opts.logLevel {
	case "", "debug", "info", "warn", "error":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}

	opts.events = events
	return opts
}

// applyFlags lets command-line flags win over file and environment.
func applyFlags(cfg *config.Config, opts options) {
	if opts.addonsDir != "" {
		cfg.AddonsDir = opts.addonsDir
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.watch {
		cfg.Watch = true
	}
}
