/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Command offlinecache runs a cache-first proxy in front of a web application
// and provides maintenance commands for its cache storage.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "offlinecache.yml"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "offlinecache",
		Short:         "Offline cache for web applications",
		Long:          "Serve a web application cache-first and keep its assets available offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "Path to the configuration file (YAML or JSON)")

	rootCmd.AddCommand(
		serveCmd(&cfgPath),
		precacheCmd(&cfgPath),
		cachesCmd(&cfgPath),
		syncCmd(&cfgPath),
		statusCmd(),
		updateCmd(),
	)
	return rootCmd
}
