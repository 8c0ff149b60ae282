// Package config loads Boilerhouse's process configuration: ambient
// daemon settings (store DSN, HTTP/gRPC addresses are owned by the API
// layer and not here, log level, pool and sync scheduler tuning) from a
// JSON file plus BOILERHOUSE_* environment variable overrides, matching
// the three-step DefaultConfig/LoadFromFile/LoadFromEnv pattern of the
// reference codebase's internal/config package.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// StoreConfig selects and configures the persistent store driver (C1).
type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn"`    // file path for sqlite, connection string for postgres
}

// PoolConfig holds the process-wide pool engine defaults (spec §4.C5);
// individual pools may override these via their own workload/pool spec.
type PoolConfig struct {
	DefaultIdleTimeout      time.Duration `json:"default_idle_timeout"`
	DefaultEvictionInterval time.Duration `json:"default_eviction_interval"`
	DefaultAcquireTimeout   time.Duration `json:"default_acquire_timeout"`
	ContainerStartTimeout   time.Duration `json:"container_start_timeout"`
}

// SyncConfig holds the process-wide sync coordinator defaults (spec §4.C8).
type SyncConfig struct {
	MinSyncInterval  time.Duration `json:"min_sync_interval"`
	MaxConcurrent    int           `json:"max_concurrent"`
	MaxErrorsPerSync int           `json:"max_errors_per_sync"`
}

// DaemonConfig holds daemon-level settings.
type DaemonConfig struct {
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// RuntimeConfig configures the container runtime adapter (C2).
type RuntimeConfig struct {
	StateBaseDir   string `json:"state_base_dir"`
	SecretsBaseDir string `json:"secrets_base_dir"`
	SocketBaseDir  string `json:"socket_base_dir"`
	Network        string `json:"network,omitempty"`
}

// ActivityConfig holds the activity log's retention knobs (spec §3, §4.C10).
type ActivityConfig struct {
	MaxEvents int `json:"max_events"`
}

// Config is the top-level process configuration.
type Config struct {
	Daemon       DaemonConfig   `json:"daemon"`
	Store        StoreConfig    `json:"store"`
	Pool         PoolConfig     `json:"pool"`
	Sync         SyncConfig     `json:"sync"`
	Runtime      RuntimeConfig  `json:"runtime"`
	Activity     ActivityConfig `json:"activity"`
	WorkloadsDir string         `json:"workloads_dir"` // directory of workload YAML specs, loaded at startup
	MetricsAddr  string         `json:"metrics_addr"`  // Prometheus scrape address, empty disables it
}

// DefaultConfig returns the built-in defaults, overridden in order by any
// loaded file and then by environment variables.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "/var/lib/boilerhouse/boilerhouse.db",
		},
		Pool: PoolConfig{
			DefaultIdleTimeout:      5 * time.Minute,
			DefaultEvictionInterval: 10 * time.Second,
			DefaultAcquireTimeout:   30 * time.Second,
			ContainerStartTimeout:   30 * time.Second,
		},
		Sync: SyncConfig{
			MinSyncInterval:  30 * time.Second,
			MaxConcurrent:    5,
			MaxErrorsPerSync: 10,
		},
		Runtime: RuntimeConfig{
			StateBaseDir:   "/var/lib/boilerhouse/state",
			SecretsBaseDir: "/var/lib/boilerhouse/secrets",
			SocketBaseDir:  "/var/lib/boilerhouse/sockets",
		},
		Activity: ActivityConfig{
			MaxEvents: 1000,
		},
		WorkloadsDir: "/etc/boilerhouse/workloads",
		MetricsAddr:  ":9090",
	}
}

// LoadFromFile reads a JSON config file on top of DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overrides cfg in place from BOILERHOUSE_* environment
// variables. Called after DefaultConfig/LoadFromFile, same ordering the
// reference codebase's daemon command uses for its own config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BOILERHOUSE_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("BOILERHOUSE_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("BOILERHOUSE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("BOILERHOUSE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("BOILERHOUSE_STATE_BASE_DIR"); v != "" {
		cfg.Runtime.StateBaseDir = v
	}
	if v := os.Getenv("BOILERHOUSE_SECRETS_BASE_DIR"); v != "" {
		cfg.Runtime.SecretsBaseDir = v
	}
	if v := os.Getenv("BOILERHOUSE_SOCKET_BASE_DIR"); v != "" {
		cfg.Runtime.SocketBaseDir = v
	}
	if v := os.Getenv("BOILERHOUSE_SYNC_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxConcurrent = n
		}
	}
	if v := os.Getenv("BOILERHOUSE_SYNC_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.MinSyncInterval = d
		}
	}
	if v := os.Getenv("BOILERHOUSE_ACTIVITY_MAX_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Activity.MaxEvents = n
		}
	}
	if v := os.Getenv("BOILERHOUSE_WORKLOADS_DIR"); v != "" {
		cfg.WorkloadsDir = v
	}
	if v := os.Getenv("BOILERHOUSE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}
