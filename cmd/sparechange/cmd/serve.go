package cmd

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/wnt/sparechange/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
			gin.SetMode(gin.ReleaseMode)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
