package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.ListenAddress != ":8082" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Accounts.RefreshMargin != 10*time.Second {
		t.Errorf("RefreshMargin = %s, want 10s", cfg.Accounts.RefreshMargin)
	}
	if cfg.Keys.WindowMode != "fixed" {
		t.Errorf("WindowMode = %q, want fixed", cfg.Keys.WindowMode)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callisto.yaml")
	contents := `
server:
  listen_address: ":9000"
store:
  backend: memory
keys:
  window_mode: sliding
accounts:
  refresh_margin: 30s
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddress != ":9000" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Backend = %q", cfg.Store.Backend)
	}
	if cfg.Keys.WindowMode != "sliding" {
		t.Errorf("WindowMode = %q", cfg.Keys.WindowMode)
	}
	if cfg.Accounts.RefreshMargin != 30*time.Second {
		t.Errorf("RefreshMargin = %s", cfg.Accounts.RefreshMargin)
	}
	// Untouched sections keep their defaults.
	if cfg.UsageStats.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want default 90", cfg.UsageStats.RetentionDays)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callisto.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_address: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CALLISTO_LISTEN_ADDRESS", ":7777")
	t.Setenv("CALLISTO_STORE_BACKEND", "memory")
	t.Setenv("CALLISTO_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddress != ":7777" {
		t.Errorf("ListenAddress = %q, want env value", cfg.Server.ListenAddress)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"unknown backend", "store:\n  backend: etcd\n"},
		{"unknown window mode", "store:\n  backend: memory\nkeys:\n  window_mode: spiral\n"},
		{"negative retention", "store:\n  backend: memory\nusage_stats:\n  path: x.db\n  retention_days: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.contents), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}
