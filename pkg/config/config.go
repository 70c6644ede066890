// Package config assembles ProxyConfig (spec.md §3), the single typed
// record the core consumes. It is built the way the teacher's own Config
// was: defaults first, then environment-variable overrides bound with
// struct tags via caarlos0/env/v11 (spec.md §A.3, §6 "Environment
// variables honored by the launcher").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Defaults for the three timing knobs spec.md §3 pins explicit defaults
// for.
const (
	DefaultRestartDebounce = 1000 * time.Millisecond
	DefaultKillGrace       = 1000 * time.Millisecond
	DefaultReadinessDelay  = 2000 * time.Millisecond
)

// Env holds the subset of ProxyConfig the launcher may override from the
// environment (spec.md §6): watch list, restart-debounce delay, verbose
// flag, extensions data directory.
type Env struct {
	WatchPaths      []string `env:"MCPMON_WATCH" envSeparator:","`
	RestartDebounce int      `env:"MCPMON_RESTART_DEBOUNCE_MS"`
	Verbose         bool     `env:"MCPMON_VERBOSE"`
	DataDir         string   `env:"MCPMON_DATA_DIR"`
}

// ProxyConfig is spec.md §3's ProxyConfig entity: immutable once
// constructed, consumed by pkg/engine.
type ProxyConfig struct {
	Command string
	Args    []string

	WatchPaths []string

	RestartDebounce time.Duration
	KillGrace       time.Duration
	ReadinessDelay  time.Duration

	Environment map[string]string
	DataDir     string

	// SessionID is generated once per proxy instance, format
	// mcpmon-<epoch-ms> (spec.md §3, GLOSSARY "Session id").
	SessionID string
	Verbose   bool
}

// SessionID formats the opaque session identifier spec.md's GLOSSARY
// names: mcpmon-<epoch-ms>.
func SessionID(startedMS int64) string {
	return fmt.Sprintf("mcpmon-%d", startedMS)
}

// Load builds a ProxyConfig for command/args, starting from defaults, then
// applying environment overrides (spec.md §A.3). startedMS is the proxy's
// start time in epoch milliseconds, supplied by the caller so the session
// id does not depend on the clock. Load also reads the environment and,
// when MCPMON_DATA_DIR is unset, the user cache directory.
func Load(command string, args []string, startedMS int64) (*ProxyConfig, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	dataDir := e.DataDir
	if dataDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		dataDir = filepath.Join(dir, "mcpmon")
	}

	cfg := &ProxyConfig{
		Command:         command,
		Args:            args,
		WatchPaths:      e.WatchPaths,
		RestartDebounce: DefaultRestartDebounce,
		KillGrace:       DefaultKillGrace,
		ReadinessDelay:  DefaultReadinessDelay,
		Environment:     map[string]string{},
		DataDir:         dataDir,
		SessionID:       SessionID(startedMS),
		Verbose:         e.Verbose,
	}

	if e.RestartDebounce > 0 {
		cfg.RestartDebounce = time.Duration(e.RestartDebounce) * time.Millisecond
	}

	return cfg, nil
}
