// Package config loads the addon host configuration.
//
// Values come from three layers, later layers winning:
//   - built-in defaults (Default)
//   - an optional TOML file
//   - ADDONHOST_* environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ADDONHOST_"

// appDirName names the per-user data directory.
const appDirName = "addonhost"

// Persisted record formats.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
)

// Duration is a time.Duration that decodes from strings such as "2s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds every tunable of the host.
type Config struct {
	// AddonsDir holds one subfolder per addon.
	AddonsDir string `toml:"addons_dir" env:"ADDONS_DIR"`

	// DataDir receives persisted-variable records.
	DataDir string `toml:"data_dir" env:"DATA_DIR"`

	// File conventions.
	ScriptExt   string   `toml:"script_ext" env:"SCRIPT_EXT"`
	ManifestExt string   `toml:"manifest_ext" env:"MANIFEST_EXT"`
	UIExt       string   `toml:"ui_ext" env:"UI_EXT"`
	LibraryDirs []string `toml:"library_dirs" env:"LIBRARY_DIRS" envSeparator:","`

	// Persistence.
	SaveDebounce  Duration `toml:"save_debounce" env:"SAVE_DEBOUNCE"`
	PersistFormat string   `toml:"persist_format" env:"PERSIST_FORMAT"`

	// Root frame geometry used for relative anchors.
	RootWidth  float64 `toml:"root_width" env:"ROOT_WIDTH"`
	RootHeight float64 `toml:"root_height" env:"ROOT_HEIGHT"`

	// ExecTimeout bounds a single script call. Zero disables it.
	ExecTimeout Duration `toml:"exec_timeout" env:"EXEC_TIMEOUT"`

	// Hot reload.
	Watch         bool     `toml:"watch" env:"WATCH"`
	WatchDebounce Duration `toml:"watch_debounce" env:"WATCH_DEBOUNCE"`

	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AddonsDir:     "addons",
		DataDir:       DefaultDataDir(),
		ScriptExt:     ".script",
		ManifestExt:   ".manifest",
		UIExt:         ".xml",
		LibraryDirs:   []string{"libs", "lib", "libraries"},
		SaveDebounce:  Duration(2 * time.Second),
		PersistFormat: FormatTOML,
		RootWidth:     1920,
		RootHeight:    1080,
		WatchDebounce: Duration(250 * time.Millisecond),
		LogLevel:      "info",
	}
}

// Load builds a configuration from defaults, the TOML file at path and the
// environment. An empty path or a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// mergeFile decodes the TOML file at path over the current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, c); err != nil {
		perr := &ParseError{Path: path, Message: err.Error(), Err: err}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			perr.Line, perr.Column = decErr.Position()
		}
		return perr
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.ScriptExt == "" || c.ManifestExt == "" || c.UIExt == "":
		return fmt.Errorf("%w: file extensions must not be empty", ErrValidationFailed)
	case c.RootWidth <= 0 || c.RootHeight <= 0:
		return fmt.Errorf("%w: root size must be positive", ErrValidationFailed)
	case c.SaveDebounce < 0 || c.ExecTimeout < 0 || c.WatchDebounce < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrValidationFailed)
	}

	switch c.PersistFormat {
	case FormatTOML, FormatYAML:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, c.PersistFormat)
	}
	return nil
}

// DefaultDataDir returns the platform data directory for persisted records.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if base := os.Getenv("APPDATA"); base != "" {
			return filepath.Join(base, appDirName)
		}
		if base := os.Getenv("LOCALAPPDATA"); base != "" {
			return filepath.Join(base, appDirName)
		}
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", appDirName)
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appDirName)
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share", appDirName)
		}
	}
	return filepath.Join(".", appDirName)
}
