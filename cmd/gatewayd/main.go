// Command gatewayd runs the real-time gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "gatewayd",
		Short: "Real-time session gateway",
		Long: `gatewayd holds long-lived WebSocket sessions for clients and
delivers application events to them in order.

Clients identify with a token, keep the connection alive with
heartbeats and resume after a disconnect without losing events.
Applications push events over HTTP or through Redis.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: ./gatewayd.{json,yaml,toml})")

	rootCmd.AddCommand(
		serveCmd(v, &configPath),
		tokenCmd(v, &configPath),
		versionCmd(),
	)
	return rootCmd
}
