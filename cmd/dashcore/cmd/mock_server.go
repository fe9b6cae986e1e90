package cmd

import (
	"context"
	"time"

	"dashcore/core/config"
	"dashcore/core/logger"
	"dashcore/core/mockapi"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(mockServerCmd)
	mockServerCmd.Flags().String("addr", "", "listen address (default: mock_server.address from config)")
}

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run the mock REST backend for dashboard datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "mock-server")

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			addr = cfg.MockServer.Address
		}

		srv := mockapi.New()
		if err := srv.Start(ctx, addr); err != nil {
			return err
		}

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error(ctx, "Error during mock server shutdown", zap.Error(err))
		}
		logger.Info(ctx, "Mock server stopped")
		return nil
	},
}
