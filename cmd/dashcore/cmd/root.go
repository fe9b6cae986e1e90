package cmd

import (
	"context"
	"fmt"
	"os"

	"dashcore/core/config"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0" // version of the dashcore CLI.
	configPath string    // --config; empty means search the default paths.
)

// rootCmd is the base command of the dashcore CLI.
var rootCmd = &cobra.Command{
	Use:     "dashcore",
	Short:   "Dashboard data-mapping core",
	Long:    "dashcore maps dashboard topics to remote datasets, fetches them on a schedule and fans the results out to subscribers.",
	Version: fmt.Sprintf("%s (core %s)", version, config.Version),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml, ./configs, /etc/dashcore)")
}

// Execute runs the root command with ctx, which is cancelled on shutdown
// signals.
func Execute(ctx context.Context) {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
