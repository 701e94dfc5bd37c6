package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marketscanner/internal/config"
	"github.com/alanyoungcy/marketscanner/internal/domain"
	"github.com/alanyoungcy/marketscanner/internal/store/jsonstore"
	"github.com/alanyoungcy/marketscanner/internal/store/kvstore"
	"github.com/alanyoungcy/marketscanner/internal/store/sqlstore"
)

// OpenStore connects the configured backend and runs Init. Connection and
// schema failures come back as ConfigError or StorageError.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (domain.Store, error) {
	var (
		store domain.Store
		err   error
	)

	switch config.NormalizeStorage(cfg.Type) {
	case config.StorageSQL:
		store, err = sqlstore.Open(ctx, cfg.DatabaseURL,
			sqlstore.WithMaxOpenConns(cfg.MaxOpenConns),
			sqlstore.WithLogger(logger),
		)
	case config.StorageKV:
		store, err = kvstore.Open(ctx, cfg.KVURL,
			kvstore.WithPoolSize(cfg.PoolSize),
			kvstore.WithLogger(logger),
		)
	case config.StorageJSON:
		store = jsonstore.New(cfg.JSONPath, jsonstore.WithLogger(logger))
	default:
		return nil, domain.ConfigError("app.OpenStore", fmt.Sprintf("unknown storage type %q", cfg.Type), nil)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.InfoContext(ctx, "store ready", slog.String("storage", cfg.Type))
	return store, nil
}
