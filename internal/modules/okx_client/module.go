package okx_client

import (
	"trade_ledger/internal/modules/config"
	"trade_ledger/internal/modules/okx_client/service"
	vault "trade_ledger/internal/modules/vault/service"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// New собирает адаптер из конфига; секрет и passphrase расшифровываются
// через vault. nil если биржа выключена.
func New(cfg *config.Config, v *vault.Vault, log *zap.Logger) (*service.Client, error) {
	ex := cfg.Exchanges.OKX
	if !ex.Enabled {
		return nil, nil
	}
	secret, err := v.Decrypt(ex.APISecret)
	if err != nil {
		return nil, errors.Wrap(err, "okx api_secret")
	}
	passphrase, err := v.Decrypt(ex.Passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "okx passphrase")
	}
	return service.NewClient(service.Config{
		BaseURL:    ex.BaseURL,
		APIKey:     ex.APIKey,
		APISecret:  secret,
		Passphrase: passphrase,
		Timeout:    cfg.Scheduler.RequestTimeout,
	}, log), nil
}
