// Package config loads termexecd's runtime configuration from environment
// variables, optionally overlaid by a TOML file, and watches that file so
// the soft limits can be tuned without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/kelseyhightower/envconfig"

	"github.com/twistedxcom/termexecd/internal/logging"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// Config holds every recognized environment-driven option, all optional.
type Config struct {
	UsePTY            bool   `envconfig:"USE_PTY" default:"false"`
	DefaultShell      string `envconfig:"DEFAULT_SHELL"`
	MaxSessions       int    `envconfig:"MAX_SESSIONS" default:"50"`
	SessionTimeoutMs  int    `envconfig:"SESSION_TIMEOUT_MS" default:"3600000"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
}

// fileOverlay is the subset of Config a TOML file may override at runtime.
// Only the soft limits are live-reloadable; shell/PTY selection is
// read once at startup.
type fileOverlay struct {
	MaxSessions      *int `toml:"max_sessions"`
	SessionTimeoutMs *int `toml:"session_timeout_ms"`
}

// Load reads environment variables into a Config, then applies a TOML
// overlay at path if present. A missing overlay file is not an error.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: envconfig: %w", err)
	}
	if err := applyOverlay(&cfg, path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyOverlay(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	var overlay fileOverlay
	_, err := toml.DecodeFile(path, &overlay)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	mergeOverlay(cfg, &overlay)
	return nil
}

func mergeOverlay(cfg *Config, overlay *fileOverlay) {
	if overlay.MaxSessions != nil {
		cfg.MaxSessions = *overlay.MaxSessions
	}
	if overlay.SessionTimeoutMs != nil {
		cfg.SessionTimeoutMs = *overlay.SessionTimeoutMs
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/termexecd/config.toml, falling back
// to ~/.config/termexecd/config.toml.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "termexecd", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "termexecd", "config.toml")
}

// Live wraps a Config with atomically-swappable soft limits, refreshed by
// Watch whenever the backing TOML file changes.
type Live struct {
	path string

	mu  sync.Mutex
	cfg Config

	maxSessions      atomic.Int64
	sessionTimeoutMs atomic.Int64
}

// NewLive snapshots cfg into a Live and remembers path for reload.
func NewLive(cfg *Config, path string) *Live {
	l := &Live{path: path, cfg: *cfg}
	l.maxSessions.Store(int64(cfg.MaxSessions))
	l.sessionTimeoutMs.Store(int64(cfg.SessionTimeoutMs))
	return l
}

// MaxSessions returns the current soft session cap.
func (l *Live) MaxSessions() int { return int(l.maxSessions.Load()) }

// SessionTimeoutMs returns the current inactive-session eviction threshold.
func (l *Live) SessionTimeoutMs() int { return int(l.sessionTimeoutMs.Load()) }

// Snapshot returns a copy of the current Config: the startup-time fields
// plus the soft limits as of the most recent reload.
func (l *Live) Snapshot() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Watch starts an fsnotify watch on the config file's directory and
// reapplies the overlay whenever the file is written, until stop is
// closed. A missing directory disables watching (logged, not fatal).
func (l *Live) Watch(stop <-chan struct{}) {
	if l.path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cfgLog.Warn("config_watch_unavailable", "error", err.Error())
		return
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		cfgLog.Warn("config_watch_dir_failed", "dir", dir, "error", err.Error())
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(l.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				l.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cfgLog.Warn("config_watch_error", "error", err.Error())
			case <-stop:
				return
			}
		}
	}()
}

func (l *Live) reload() {
	l.mu.Lock()
	cfg := l.cfg
	l.mu.Unlock()

	if err := applyOverlay(&cfg, l.path); err != nil {
		cfgLog.Warn("config_reload_failed", "error", err.Error())
		return
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	l.maxSessions.Store(int64(cfg.MaxSessions))
	l.sessionTimeoutMs.Store(int64(cfg.SessionTimeoutMs))
	cfgLog.Info("config_reloaded", "max_sessions", cfg.MaxSessions, "session_timeout_ms", cfg.SessionTimeoutMs)
}
