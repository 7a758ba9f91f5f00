package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "wsclient"
	version = "v0.4.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Self-healing WebSocket streaming client",
		Version: version,
		Long: `wsclient keeps a WebSocket stream connected: it reconnects on every failure,
sends heartbeats, prints inbound packets as JSON lines and reports every error
with the last frames sent and received.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newConnectCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
