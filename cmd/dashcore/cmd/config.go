package cmd

import (
	"fmt"

	"dashcore/core/config"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().StringP("out", "o", "config.yaml", "file to write the generated config to")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d mapping(s), fetcher %q.\n", len(cfg.Mappings), cfg.Fetcher.Kind)
		return nil
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a minimal configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if err := config.SaveConfig(config.GenerateMinimalConfig(), out); err != nil {
			return fmt.Errorf("failed to save minimal config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Minimal configuration written to %s.\n", out)
		return nil
	},
}
