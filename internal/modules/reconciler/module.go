package reconciler

import (
	"trade_ledger/internal/exchange"
	"trade_ledger/internal/modules/config"
	evaluation "trade_ledger/internal/modules/evaluation/service"
	health "trade_ledger/internal/modules/health/service"
	ledger "trade_ledger/internal/modules/ledger/service"
	"trade_ledger/internal/modules/reconciler/service"
	storage "trade_ledger/internal/modules/storage/service"
	"trade_ledger/internal/notify"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config       *config.Config
	Registry     *exchange.Registry
	Store        *storage.Store
	Materializer *ledger.Materializer
	Queue        *evaluation.Queue
	Health       *health.State `optional:"true"`
	Notifier     notify.Notifier
	Log          *zap.Logger
}

func New(p Params) *service.Reconciler {
	var status service.StatusSink
	if p.Health != nil {
		status = p.Health
	}
	return service.NewReconciler(
		p.Registry,
		p.Store,
		p.Materializer,
		p.Queue,
		status,
		p.Notifier,
		service.Config{
			MaxCloseRetries: p.Config.Reconcile.MaxCloseRetries,
			MaxCloseAge:     p.Config.Reconcile.MaxCloseAge,
			FillsLookback:   p.Config.Reconcile.FillsLookback,
		},
		p.Log,
	)
}

func Module() fx.Option {
	return fx.Module("reconciler",
		fx.Provide(New),
	)
}
