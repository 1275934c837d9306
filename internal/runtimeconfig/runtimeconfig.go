// Package runtimeconfig loads GroundDB's engine-tuning config: lock/busy
// timeouts, the watcher debounce window, and whether to auto-start the
// watcher. This is distinct from schema.yaml, which is mandatory and
// describes collections/views, not engine behavior.
//
// Parsed with tailscale/hujson (JSON with comments), the same
// defaults-then-override layering the teacher's own tk CLI uses for
// .tk.json.
package runtimeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// Config holds engine tuning knobs. Every field has a sane default; the
// config file on disk is optional and may set any subset of them.
type Config struct {
	// LockTimeoutMS is a lock wait bound in milliseconds. It is loaded and
	// exposed through [Config.LockTimeout]; the engine's write lock does not
	// read it.
	LockTimeoutMS int `json:"lock_timeout_ms"`

	// BusyTimeoutMS is a SQLite busy timeout in milliseconds. It is loaded
	// only; the index applies its own fixed busy_timeout and does not read
	// this value.
	BusyTimeoutMS int `json:"busy_timeout_ms"`

	// WatcherDebounceMS is the coalescing window for filesystem events.
	WatcherDebounceMS int `json:"watcher_debounce_ms"`

	// AutoStartWatcher starts the file watcher automatically on Open.
	AutoStartWatcher bool `json:"auto_start_watcher"`
}

// FileName is the config file's name at the store root.
const FileName = ".grounddb.jsonc"

// Default returns the engine's built-in tuning defaults.
func Default() Config {
	return Config{
		LockTimeoutMS:     10_000,
		BusyTimeoutMS:     10_000,
		WatcherDebounceMS: 100,
		AutoStartWatcher:  false,
	}
}

// Load reads root/.grounddb.jsonc if present, overlaying it onto [Default].
// A missing file is not an error.
func Load(root string) (Config, error) {
	cfg := Default()

	path := filepath.Join(root, FileName)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return cfg, fmt.Errorf("runtimeconfig: read %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return cfg, fmt.Errorf("runtimeconfig: parse %s: %w", path, err)
	}

	if err := json.Unmarshal(std, &cfg); err != nil {
		return cfg, fmt.Errorf("runtimeconfig: decode %s: %w", path, err)
	}

	return cfg, nil
}

// LockTimeout returns the configured lock timeout as a [time.Duration].
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// WatcherDebounce returns the configured watcher debounce window.
func (c Config) WatcherDebounce() time.Duration {
	return time.Duration(c.WatcherDebounceMS) * time.Millisecond
}
