package ledger

import (
	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/ledger/service"
	storage "trade_ledger/internal/modules/storage/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("ledger",
		fx.Provide(
			func(cfg *config.Config, store *storage.Store, log *zap.Logger) *service.Materializer {
				return service.NewMaterializer(store, cfg.Evaluation.PopupsEnabled, log)
			},
		),
	)
}
