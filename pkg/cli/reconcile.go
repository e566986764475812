package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/sellhub/pkg/config"
)

func newReconcileCommand(deps Deps) *cobra.Command {
	var expireAfter, reconcileAfter time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Expire stale orders and poll the processor for pending charges",
		Long: "Run one pass of the reconciler jobs: pending orders past the order TTL are expired " +
			"and charges still pending at the processor are polled and applied.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, deps, func(ctx context.Context, b Backend, cfg *config.Config) error {
				if expireAfter <= 0 {
					expireAfter = cfg.Checkout.OrderTTL
				}
				if reconcileAfter <= 0 {
					reconcileAfter = cfg.Reconciler.ReconcileAfter
				}

				expired, err := b.Orders().ExpireStale(ctx, expireAfter)
				if err != nil {
					return fmt.Errorf("expire: %w", err)
				}
				if !b.PollsProcessor() {
					fmt.Fprintf(cmd.OutOrStdout(), "Expired %d order(s), skipped processor polling (sandbox processor)\n", expired)
					return nil
				}
				reconciled, err := b.Orders().ReconcilePending(ctx, reconcileAfter)
				if err != nil {
					return fmt.Errorf("reconcile: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d order(s), reconciled %d order(s)\n", expired, reconciled)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&expireAfter, "expire-after", 0, "Expire pending orders older than this (default: SELLHUB_ORDER_TTL)")
	cmd.Flags().DurationVar(&reconcileAfter, "reconcile-after", 0, "Poll pending charges older than this (default: SELLHUB_RECONCILE_AFTER)")

	return cmd
}
