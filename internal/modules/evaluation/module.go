package evaluation

import (
	"context"

	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/evaluation/service"
	storage "trade_ledger/internal/modules/storage/service"
	"trade_ledger/internal/notify"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("evaluation",
		fx.Provide(
			func(cfg *config.Config, store *storage.Store, n notify.Notifier, log *zap.Logger) *service.Queue {
				return service.NewQueue(store, cfg.Evaluation.PopupsEnabled, n, log)
			},
		),
		fx.Invoke(
			func(lc fx.Lifecycle, q *service.Queue, n notify.Notifier) {
				if t, ok := n.(*notify.Telegram); ok {
					t.SetEvaluator(q)
				}
				lc.Append(fx.Hook{
					// очередь не хранится: после рестарта собираем из статусов
					OnStart: func(ctx context.Context) error {
						return q.Rebuild(ctx)
					},
				})
			},
		),
	)
}
