package main

import (
	"context"
	"fmt"

	"github.com/boilerhouse/boilerhouse/internal/config"
	"github.com/boilerhouse/boilerhouse/internal/store"
)

// loadConfig applies the three-step default/file/env override chain (spec
// §1 "configuration loading... is out of scope" as a request-time concern,
// but the daemon still needs a process config to start at all).
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// openStore constructs the configured store driver.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.DSN)
	case "sqlite", "":
		return store.NewSQLiteStore(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
