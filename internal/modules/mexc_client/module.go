package mexc_client

import (
	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/mexc_client/service"
	vault "trade_ledger/internal/modules/vault/service"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// New nil если биржа выключена.
func New(cfg *config.Config, v *vault.Vault, log *zap.Logger) (*service.Client, error) {
	ex := cfg.Exchanges.MEXC
	if !ex.Enabled {
		return nil, nil
	}
	secret, err := v.Decrypt(ex.APISecret)
	if err != nil {
		return nil, errors.Wrap(err, "mexc api_secret")
	}
	return service.NewClient(service.Config{
		BaseURL:   ex.BaseURL,
		APIKey:    ex.APIKey,
		APISecret: secret,
		Timeout:   cfg.Scheduler.RequestTimeout,
	}, log), nil
}
