package notify

import (
	"context"

	"trade_ledger/internal/modules/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New Telegram если задан token, иначе лог.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (Notifier, error) {
	if cfg.Telegram.Token == "" {
		return NewStdout(log), nil
	}
	t, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return t.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			t.Stop()
			return nil
		},
	})
	return t, nil
}

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(New),
	)
}
