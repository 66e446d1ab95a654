package exchanges

import (
	"trade_ledger/internal/exchange"
	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/mexc_client"
	"trade_ledger/internal/modules/okx_client"
	vault "trade_ledger/internal/modules/vault/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRegistry включённые биржи в фиксированном порядке: okx, mexc.
func NewRegistry(cfg *config.Config, v *vault.Vault, log *zap.Logger) (*exchange.Registry, error) {
	var adapters []exchange.Adapter

	okx, err := okx_client.New(cfg, v, log)
	if err != nil {
		return nil, err
	}
	if okx != nil {
		adapters = append(adapters, okx)
	}

	mexc, err := mexc_client.New(cfg, v, log)
	if err != nil {
		return nil, err
	}
	if mexc != nil {
		adapters = append(adapters, mexc)
	}

	reg := exchange.NewRegistry(adapters...)
	log.Info("exchange adapters", zap.Strings("enabled", reg.Names()))
	return reg, nil
}

func Module() fx.Option {
	return fx.Module("exchanges",
		fx.Provide(NewRegistry),
	)
}
