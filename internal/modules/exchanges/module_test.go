package exchanges

import (
	"testing"

	"trade_ledger/internal/modules/config"
	vault "trade_ledger/internal/modules/vault/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRegistry(t *testing.T) {
	v := vault.NewWithParams("pass", vault.Params{N: 1 << 10, R: 8, P: 1})
	secret, err := v.Encrypt("s3cret")
	require.NoError(t, err)
	passphrase, err := v.Encrypt("okx-pass")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Exchanges.OKX = config.ExchangeConfig{Enabled: true, APIKey: "k", APISecret: secret, Passphrase: passphrase}
	cfg.Exchanges.MEXC = config.ExchangeConfig{Enabled: false}

	reg, err := NewRegistry(cfg, v, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"okx"}, reg.Names())

	cfg.Exchanges.MEXC = config.ExchangeConfig{Enabled: true, APIKey: "k", APISecret: "plaintext-not-sealed"}
	_, err = NewRegistry(cfg, v, zap.NewNop())
	assert.ErrorIs(t, err, vault.ErrCorrupted)
}
