package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	dataDir    string
	configPath string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "carlink: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "carlink",
		Short: "Drive a wireless CarPlay/Android Auto USB adapter",
		Long: `carlink talks to Carlinkit-style adapters over USB (or a serial/TCP bridge),
performs the start-up handshake and keeps the session alive while logging
what the phone and the adapter report.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "directory for config, journal and logs (default: user config dir)")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file path (default: <data-dir>/config.json)")

	root.AddCommand(
		devicesCmd(),
		runCmd(g),
		journalCmd(g),
		versionCmd(),
	)

	return root
}
