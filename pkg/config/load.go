package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration file, applies defaults and CALLISTO_*
// environment overrides, and validates the result. An empty path yields
// the defaults (plus overrides).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers CALLISTO_* environment variables over the file.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("CALLISTO_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("CALLISTO_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("CALLISTO_REDIS_ADDR"); val != "" {
		cfg.Store.Redis.Addr = val
	}
	if val := os.Getenv("CALLISTO_REDIS_PASSWORD"); val != "" {
		cfg.Store.Redis.Password = val
	}
	if val := os.Getenv("CALLISTO_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Store.Redis.DB = db
		}
	}
	if val := os.Getenv("CALLISTO_WINDOW_MODE"); val != "" {
		cfg.Keys.WindowMode = val
	}
	if val := os.Getenv("CALLISTO_REFRESH_MARGIN"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Accounts.RefreshMargin = d
		}
	}
	if val := os.Getenv("CALLISTO_RELAY_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Relay.IdleTimeout = d
		}
	}
	if val := os.Getenv("CALLISTO_RELAY_TOTAL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Relay.TotalTimeout = d
		}
	}
	if val := os.Getenv("CALLISTO_PRICING_PATH"); val != "" {
		cfg.Pricing.Path = val
	}
	if val := os.Getenv("CALLISTO_USAGE_DB_PATH"); val != "" {
		cfg.UsageStats.Path = val
	}
	if val := os.Getenv("CALLISTO_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("CALLISTO_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("CALLISTO_METRICS_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
}
