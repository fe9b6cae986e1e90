package cmd

import (
	"encoding/json"
	"fmt"

	"dashcore/core/config"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(topicsCmd)
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the configured topic mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), topicsTable(cfg))
		return nil
	},
}

func topicsTable(cfg *config.Config) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("TOPIC", "DATASET", "PARAMS", "REFRESH")
	table.AddRow("-----", "-------", "------", "-------")
	for _, m := range cfg.Mappings {
		params := "{}"
		if len(m.Param) > 0 {
			if b, err := json.Marshal(m.Param); err == nil {
				params = string(b)
			}
		}
		refresh := "manual"
		if m.RefreshInterval > 0 {
			refresh = m.RefreshInterval.String()
		}
		table.AddRow(m.Topic, m.DatasetName, params, refresh)
	}
	return table
}
