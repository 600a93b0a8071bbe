package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/quotapilot/quotapilot/internal/config"
	"github.com/quotapilot/quotapilot/internal/core/store"
)

// loadConfig decodes the merged viper state (defaults, config file, bound
// flags) into a typed config. Environment overrides are applied inside
// config.Load and win over every viper layer.
func loadConfig(ctx context.Context) (*config.Config, error) {
	return config.Load(ctx, viper.AllSettings())
}

func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return openStoreWith(ctx, cfg)
}

func openStoreWith(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
