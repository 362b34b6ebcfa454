package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wnt/sparechange/internal/api"
	"github.com/wnt/sparechange/internal/app"
	"github.com/wnt/sparechange/internal/tracker"
)

var initCmd = &cobra.Command{
	Use:   "init <address>",
	Short: "Start tracking a wallet from its latest transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Tracker.InitializeWallet(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var trackCmd = &cobra.Command{
	Use:   "track [address]",
	Short: "Record round-ups for transfers made since the last run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		reprocess, _ := cmd.Flags().GetBool("reprocess")

		if all == (len(args) == 1) {
			return errors.New("pass either a wallet address or --all")
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if all {
				result, err := a.Tracker.TrackAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(result)
			}

			result, err := a.Tracker.TrackRoundups(ctx, args[0], limit, reprocess)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var roundupsCmd = &cobra.Command{
	Use:   "roundups <address>",
	Short: "List recorded round-ups, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Tracker.GetRoundups(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(api.NewRoundupsView(result))
		})
	},
}

var totalCmd = &cobra.Command{
	Use:   "total <address>",
	Short: "Show the accumulated round-up and investment readiness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			total, err := a.Tracker.GetTotal(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"wallet":                  args[0],
				"total_roundup":           total.StringFixed(2),
				"threshold":               a.Ledger.Threshold().StringFixed(2),
				"is_ready_for_investment": a.Tracker.IsReady(total),
			})
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <address>",
	Short: "Preview round-ups for recent transfers without recording them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			scanned, err := a.Tracker.Scan(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, s := range scanned {
				fmt.Printf("%s  %-8s %20s  $%10s  +%s  [%s]\n",
					s.Timestamp.UTC().Format("2006-01-02 15:04:05"),
					s.Symbol,
					s.Quantity.String(),
					s.USDValue.StringFixed(2),
					s.Roundup.StringFixed(2),
					s.PriceSource,
				)
			}
			fmt.Printf("%d outgoing transfers\n", len(scanned))
			return nil
		})
	},
}

func init() {
	trackCmd.Flags().Int("limit", tracker.DefaultLimit, "Maximum number of transfers to process")
	trackCmd.Flags().Bool("reprocess", false, "Walk from the top of history instead of the baseline")
	trackCmd.Flags().Bool("all", false, "Track every initialized wallet")
	roundupsCmd.Flags().Int("limit", tracker.DefaultLimit, "Maximum number of records to list")
	scanCmd.Flags().Int("limit", 50, "Maximum number of transfers to scan")

	rootCmd.AddCommand(initCmd, trackCmd, roundupsCmd, totalCmd, scanCmd)
}
