package main

import (
	"context"
	"fmt"
	"strings"

	"trade_ledger/internal/models"
	evaluation "trade_ledger/internal/modules/evaluation/service"

	"github.com/spf13/cobra"
)

// newEvalCmd те же действия, что кнопки в telegram, для запуска без бота.
func newEvalCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eval",
		Short: "Inspect and answer pending evaluations",
	}

	withQueue := func(cmd *cobra.Command, fn func(ctx context.Context, q *evaluation.Queue) error) error {
		var q *evaluation.Queue
		return runOnce(cmd.Context(), func(ctx context.Context) error {
			return fn(ctx, q)
		}, &q)
	}

	var (
		note string
		tags []string
	)
	metadata := func() models.UserMetadata {
		return models.UserMetadata{Note: strings.TrimSpace(note), Tags: tags}
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List pending evaluations and unresolved positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, func(ctx context.Context, q *evaluation.Queue) error {
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, q.Counts().String())
				for _, t := range q.Pending() {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Kind, models.PositionKey(t.Exchange, t.PositionID), t.Symbol, t.Side)
				}
				for _, p := range q.Unresolved() {
					fmt.Fprintf(w, "unresolved\t%s\t%s\t%d misses\n", models.PositionKey(p.Exchange, p.PositionID), p.Symbol, p.CloseMisses)
				}
				return nil
			})
		},
	}

	open := &cobra.Command{
		Use:   "open <exchange> <position-id>",
		Short: "Record the opening evaluation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, func(ctx context.Context, q *evaluation.Queue) error {
				return q.MarkOpeningShown(ctx, args[0], args[1], metadata())
			})
		},
	}

	closing := &cobra.Command{
		Use:   "close <exchange> <position-id>",
		Short: "Submit the closing evaluation and finish the position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, func(ctx context.Context, q *evaluation.Queue) error {
				return q.SubmitClosing(ctx, args[0], args[1], metadata())
			})
		},
	}

	for _, c := range []*cobra.Command{open, closing} {
		c.Flags().StringVar(&note, "note", "", "free-form note")
		c.Flags().StringSliceVar(&tags, "tag", nil, "tag, repeatable")
	}

	resolve := &cobra.Command{
		Use:   "resolve <exchange> <position-id>",
		Short: "Retry or discard a position whose close history never appeared",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			discard, _ := cmd.Flags().GetBool("discard")
			return withQueue(cmd, func(ctx context.Context, q *evaluation.Queue) error {
				return q.ResolveUnresolved(ctx, args[0], args[1], !discard)
			})
		},
	}
	resolve.Flags().Bool("discard", false, "delete the row instead of retrying")

	root.AddCommand(pending, open, closing, resolve)
	return root
}
