package scheduler

import (
	"context"

	"trade_ledger/internal/modules/config"
	reconciler "trade_ledger/internal/modules/reconciler/service"
	"trade_ledger/internal/modules/scheduler/service"
	"trade_ledger/internal/notify"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("scheduler",
		fx.Provide(
			func(cfg *config.Config, r *reconciler.Reconciler, log *zap.Logger) *service.Scheduler {
				return service.New(r, cfg.Scheduler.Interval, cfg.Scheduler.PassTimeout, log)
			},
		),
		fx.Invoke(
			func(lc fx.Lifecycle, s *service.Scheduler, n notify.Notifier) {
				// /sync из чата
				if t, ok := n.(*notify.Telegram); ok {
					t.SetSyncer(s)
				}
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return s.Start()
					},
					OnStop: func(ctx context.Context) error {
						return s.Stop(ctx)
					},
				})
			},
		),
	)
}
