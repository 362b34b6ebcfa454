package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wnt/sparechange/internal/app"
	"github.com/wnt/sparechange/internal/config"
	"github.com/wnt/sparechange/internal/logger"
)

var (
	envFile string
	cfg     config.Config
	log     zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sparechange",
	Short: "Round-up accumulation for Solana wallets",
	Long: `sparechange watches the outgoing transfers of Solana wallets, values each
one in USD and accumulates the round-up to the next whole dollar.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load environment variables from the specified file
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "No .env file found at %s, using environment variables\n", envFile)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		log = logger.New(cfg.LogLevel)
		return nil
	},
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "envFile", ".env", "Path to .env file")
}

// withApp builds the application for a single command and closes it afterwards
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
