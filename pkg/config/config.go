// Package config loads and validates the service configuration.
//
// Configuration comes from a YAML file, with defaults applied first and
// CALLISTO_* environment variables applied last, so deployments can
// override single settings without editing the file.
package config

import (
	"fmt"
	"time"

	"mercator-hq/callisto/pkg/relay"
	"mercator-hq/callisto/pkg/store"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/usagestats"
)

// Config is the full service configuration.
type Config struct {
	// Server configures the client-facing HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the shared state store.
	Store StoreConfig `yaml:"store"`

	// Accounts configures credential lifecycle behavior.
	Accounts AccountsConfig `yaml:"accounts"`

	// Relay bounds upstream exchanges.
	Relay relay.Config `yaml:"relay"`

	// Keys configures policy enforcement behavior.
	Keys KeysConfig `yaml:"keys"`

	// Pricing points at the model rate table.
	Pricing PricingConfig `yaml:"pricing"`

	// UsageStats configures the durable request log.
	UsageStats usagestats.Config `yaml:"usage_stats"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures structured log output.
	Logging logging.Config `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address"`

	// ReadHeaderTimeout bounds reading the client request header.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the state store backend.
type StoreConfig struct {
	// Backend is "redis" or "memory". The memory backend is for tests and
	// single-node development only.
	Backend string `yaml:"backend"`

	// Redis configures the redis backend.
	Redis store.RedisConfig `yaml:"redis"`
}

// AccountsConfig tunes credential lifecycle behavior.
type AccountsConfig struct {
	// RefreshMargin is how close to expiry a token may get before it is
	// refreshed ahead of use.
	RefreshMargin time.Duration `yaml:"refresh_margin"`

	// LockTTL bounds how long a crashed holder pins a refresh lock.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// LockWait bounds waiting for another holder's refresh.
	LockWait time.Duration `yaml:"lock_wait"`

	// FailureThreshold is how many consecutive failures sideline an
	// account.
	FailureThreshold int `yaml:"failure_threshold"`
}

// KeysConfig tunes policy enforcement.
type KeysConfig struct {
	// WindowMode is "fixed" or "sliding".
	WindowMode string `yaml:"window_mode"`
}

// PricingConfig points at the model rate table.
type PricingConfig struct {
	// Path is the pricing YAML file. Empty uses builtin rates.
	Path string `yaml:"path"`

	// Watch enables hot reload of the pricing file.
	Watch bool `yaml:"watch"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on.
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:     ":8082",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "redis",
			Redis: store.RedisConfig{
				Addr:        "127.0.0.1:6379",
				DialTimeout: 5 * time.Second,
			},
		},
		Accounts: AccountsConfig{
			RefreshMargin:    10 * time.Second,
			LockTTL:          30 * time.Second,
			LockWait:         15 * time.Second,
			FailureThreshold: 3,
		},
		Keys: KeysConfig{
			WindowMode: "fixed",
		},
		UsageStats: usagestats.Config{
			Path:          "data/usage.db",
			RetentionDays: 90,
			PruneSchedule: "0 3 * * *",
		},
		Metrics: MetricsConfig{Enabled: true},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("config: server.listen_address is required")
	}

	switch c.Store.Backend {
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("config: store.redis.addr is required for the redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	switch c.Keys.WindowMode {
	case "", "fixed", "sliding":
	default:
		return fmt.Errorf("config: unknown keys.window_mode %q", c.Keys.WindowMode)
	}

	if c.Accounts.RefreshMargin <= 0 {
		return fmt.Errorf("config: accounts.refresh_margin must be positive")
	}
	if c.Accounts.FailureThreshold < 1 {
		return fmt.Errorf("config: accounts.failure_threshold must be at least 1")
	}

	if c.UsageStats.Path == "" {
		return fmt.Errorf("config: usage_stats.path is required")
	}
	if c.UsageStats.RetentionDays < 0 {
		return fmt.Errorf("config: usage_stats.retention_days must be non-negative")
	}
	return nil
}
