package main

import (
	"bufio"
	"fmt"
	"strings"

	"trade_ledger/internal/modules/config"
	vault "trade_ledger/internal/modules/vault/service"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Encrypt or decrypt exchange secrets with vault.passphrase",
	}
	cmd.AddCommand(
		newVaultOpCmd("encrypt", "Encrypt a value read from stdin", (*vault.Vault).Encrypt),
		newVaultOpCmd("decrypt", "Decrypt a value read from stdin", (*vault.Vault).Decrypt),
	)
	return cmd
}

func newVaultOpCmd(use, short string, op func(*vault.Vault, string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.Wrap(err, "read value from stdin")
			}
			value := strings.TrimRight(line, "\r\n")
			if value == "" {
				return errors.New("empty input")
			}

			result, err := op(vault.New(cfg.Vault.Passphrase), value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
}
