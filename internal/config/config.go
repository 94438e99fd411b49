// Package config loads durex engine configuration from defaults, an
// optional TOML file, and environment variable overrides, in that order
// of increasing precedence.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration schema for a durex-backed host process
// (see cmd/durexctl).
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
	Crash    CrashConfig    `toml:"crash"`
	Observer ObserverConfig `toml:"observer"`
}

// EngineConfig controls durex.Options fields that aren't store-specific.
type EngineConfig struct {
	LeaseMS  int64  `toml:"lease_ms"`
	WorkerID string `toml:"worker_id"`
}

// SQLiteConfig configures the store/sqlite adapter, used when Postgres.DSN
// is empty.
type SQLiteConfig struct {
	Path           string `toml:"path"`
	MaxRetries     int    `toml:"max_retries"`
	RetryBackoffMS int    `toml:"retry_backoff_ms"`
}

// PostgresConfig configures the store/postgres adapter. Set DSN to opt into
// Postgres instead of SQLite.
type PostgresConfig struct {
	DSN            string `toml:"dsn"`
	MaxRetries     int    `toml:"max_retries"`
	RetryBackoffMS int    `toml:"retry_backoff_ms"`
}

// CrashConfig declares an optional crash-injection rule for durability
// testing, mirroring durex.CrashPolicy.
type CrashConfig struct {
	StepID string `toml:"step_id"`
	Phase  string `toml:"phase"`
}

// ObserverConfig toggles OTEL tracing via the observer package.
type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Engine:   EngineConfig{LeaseMS: 3000},
		SQLite:   SQLiteConfig{Path: "durex.db", MaxRetries: 5, RetryBackoffMS: 20},
		Postgres: PostgresConfig{MaxRetries: 5, RetryBackoffMS: 20},
		Observer: ObserverConfig{ServiceName: "durex"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). path
// defaults to "durex.toml" when empty; a missing file is not an error, so
// callers can run with pure defaults plus env overrides.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "durex.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("DUREX_WORKER_ID"); v != "" {
		cfg.Engine.WorkerID = v
	}
	if v := os.Getenv("DUREX_LEASE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.LeaseMS = n
		}
	}
	if v := os.Getenv("DUREX_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("DUREX_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("DUREX_CRASH_STEP_ID"); v != "" {
		cfg.Crash.StepID = v
	}
	if v := os.Getenv("DUREX_CRASH_PHASE"); v != "" {
		cfg.Crash.Phase = v
	}
	if v := os.Getenv("DUREX_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
