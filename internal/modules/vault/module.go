package vault

import (
	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/vault/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("vault",
		fx.Provide(
			func(cfg *config.Config) *service.Vault {
				return service.New(cfg.Vault.Passphrase)
			},
		),
	)
}
