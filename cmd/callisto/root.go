package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "callisto",
	Short: "Callisto - streaming relay gateway for the Anthropic Messages API",
	Long: `Callisto multiplexes client API keys onto a pool of OAuth-authenticated
upstream accounts.

It acts as a streaming proxy for Messages API requests, providing:
  - API key issuance with quotas, rate limits, and restrictions
  - OAuth token lifecycle management for the account pool
  - Verbatim SSE relay with mid-stream usage accounting
  - Cost tracking against per-key ceilings
  - A durable request log for usage reporting`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
