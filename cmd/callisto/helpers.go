package main

import (
	"context"
	"fmt"

	"mercator-hq/callisto/pkg/accounts"
	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/keys"
	"mercator-hq/callisto/pkg/store"
)

// loadConfig loads the configuration named by the global --config flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}

// openStore connects the configured state store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		st, err := store.NewRedisStore(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting redis at %s: %w", cfg.Store.Redis.Addr, err)
		}
		return st, nil
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, cli.NewConfigError("store.backend", fmt.Sprintf("unknown backend %q", cfg.Store.Backend))
	}
}

// newKeyService builds the policy engine from config.
func newKeyService(st store.Store, cfg *config.Config, pricer keys.Pricer) *keys.Service {
	return keys.NewService(st, pricer, keys.WithWindowMode(keys.WindowMode(cfg.Keys.WindowMode)))
}

// newPool builds the account pool from config.
func newPool(st store.Store, cfg *config.Config) *accounts.Pool {
	return accounts.NewPool(st,
		accounts.WithRefreshMargin(cfg.Accounts.RefreshMargin),
		accounts.WithLockTimings(cfg.Accounts.LockTTL, cfg.Accounts.LockWait),
		accounts.WithFailureThreshold(cfg.Accounts.FailureThreshold),
	)
}
