package storage

import (
	"context"
	"fmt"
	"time"

	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/storage/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Open выбирает бэкенд по storage.driver и докатывает схему.
func Open(ctx context.Context, cfg *config.Config) (*service.Store, error) {
	var (
		store *service.Store
		err   error
	)
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		store, err = service.NewPostgres(ctx, cfg.Storage.PostgresDSN)
	case config.StorageSQLite:
		store, err = service.NewSQLite(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*service.Store, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()

				store, err := Open(ctx, cfg)
				if err != nil {
					return nil, err
				}
				log.Info("storage ready", zap.String("driver", cfg.Storage.Driver))

				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						return store.Close()
					},
				})
				return store, nil
			},
		),
	)
}
