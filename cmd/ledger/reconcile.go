package main

import (
	"context"
	"fmt"

	"trade_ledger/internal/modules/config"
	reconciler "trade_ledger/internal/modules/reconciler/service"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rec *reconciler.Reconciler
				cfg *config.Config
			)
			return runOnce(cmd.Context(), func(ctx context.Context) error {
				ctx, cancelPass := context.WithTimeout(ctx, cfg.Scheduler.PassTimeout)
				defer cancelPass()
				res, err := rec.RunPass(ctx)

				out, merr := sonic.ConfigStd.MarshalIndent(res, "", "  ")
				if merr != nil {
					return merr
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			}, &rec, &cfg)
		},
	}
}
