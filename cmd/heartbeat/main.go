package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Heartbeat text converter web front-end",
		Long: `Heartbeat serves the text converter page with Google sign-in,
toast notifications and a persisted light/dark theme.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a yaml config file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		descriptorCmd(&configPath),
	)
	return rootCmd
}
