package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wnt/sparechange/internal/app"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator commands",
}

var resetBaselineCmd = &cobra.Command{
	Use:   "reset-baseline <address>",
	Short: "Forget a wallet's baseline so it must be initialized again",
	Long: `Removes the stored baseline of a wallet. Recorded round-ups are kept, and
re-tracking transfers that were already recorded adds nothing to the total.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Tracker.ResetBaseline(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Baseline removed for %s\n", args[0])
			return nil
		})
	},
}

var walletsCmd = &cobra.Command{
	Use:   "wallets",
	Short: "List initialized wallets and their baselines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			baselines, err := a.Baselines.List(ctx)
			if err != nil {
				return err
			}
			for _, b := range baselines {
				fmt.Printf("%-44s  %s\n", b.Address, b.LastID())
			}
			return nil
		})
	},
}

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Show configured transfer feed endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printJSON(a.Pool.Stats())
		})
	},
}

func init() {
	adminCmd.AddCommand(resetBaselineCmd, walletsCmd, endpointsCmd)
	rootCmd.AddCommand(adminCmd)
}
