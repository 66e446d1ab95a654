package main

import (
	"context"
	"time"

	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/evaluation"
	"trade_ledger/internal/modules/exchanges"
	"trade_ledger/internal/modules/ledger"
	"trade_ledger/internal/modules/reconciler"
	"trade_ledger/internal/modules/storage"
	"trade_ledger/internal/modules/vault"
	"trade_ledger/internal/notify"
	"trade_ledger/pkg/logger"
	"trade_ledger/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(cfg.Tracing.ServiceName)
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
}

// startTracing берёт логгер, чтобы closer писал ошибки уже в инициализированный logger.
func startTracing(lc fx.Lifecycle, cfg *config.Config, _ *zap.Logger) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	tracing.SetServiceName(cfg.Tracing.ServiceName)
	_, closer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Tracing.Host,
		Port: cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

// coreModules всё, что нужно для прохода сверки.
func coreModules() fx.Option {
	return fx.Options(
		config.Module(),
		fx.Provide(newLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(startTracing),
		vault.Module(),
		storage.Module(),
		exchanges.Module(),
		notify.Module(),
		ledger.Module(),
		evaluation.Module(),
		reconciler.Module(),
	)
}

// runOnce поднимает core-модули, выполняет fn и гасит приложение.
// targets заполняются через fx.Populate до вызова fn.
func runOnce(ctx context.Context, fn func(ctx context.Context) error, targets ...interface{}) error {
	app := fx.New(
		coreModules(),
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}
