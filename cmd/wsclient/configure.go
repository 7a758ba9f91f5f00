package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/wsclient/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration as YAML",
		Long: `Resolves defaults, --config and flags the same way connect does and writes
the result, ready to be passed back with --config.`,
		Example: `  wsclient config --host wss://stream.example.com/ws -H X-Api-Key=secret -o wsclient.yaml`,
		RunE:    runConfig,
	}
	addConnectFlags(cmd.Flags())
	cmd.Flags().StringP("out", "o", "wsclient.yaml", "File to write")
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if err := config.Save(cfg, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
	return nil
}
