package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/usagestats"
)

var usageFlags struct {
	since  time.Duration
	limit  int
	format string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Query the durable request log",
	Long: `Query the durable request log for a key.

The log records every relayed request, including streams that failed
mid-flight, with the partial usage they consumed.

Examples:
  # Summarize the last 24 hours
  callisto usage summary <key-id>

  # Summarize the last week
  callisto usage summary <key-id> --since 168h

  # Show recent requests
  callisto usage recent <key-id> --limit 20`,
}

var usageSummaryCmd = &cobra.Command{
	Use:   "summary <key-id>",
	Short: "Aggregate a key's logged requests",
	Args:  cobra.ExactArgs(1),
	RunE:  summarizeUsage,
}

var usageRecentCmd = &cobra.Command{
	Use:   "recent <key-id>",
	Short: "Show a key's most recent requests",
	Args:  cobra.ExactArgs(1),
	RunE:  recentUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageSummaryCmd, usageRecentCmd)

	usageSummaryCmd.Flags().DurationVar(&usageFlags.since, "since", 24*time.Hour, "look-back period")
	usageSummaryCmd.Flags().StringVar(&usageFlags.format, "format", "text", "output format: text, json")
	usageRecentCmd.Flags().IntVar(&usageFlags.limit, "limit", 20, "max rows")
	usageRecentCmd.Flags().StringVar(&usageFlags.format, "format", "text", "output format: text, json")
}

func openUsageLog() (*usagestats.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := usagestats.Open(cfg.UsageStats)
	if err != nil {
		return nil, cli.NewCommandError("usage", fmt.Errorf("opening usage log: %w", err))
	}
	return log, nil
}

func summarizeUsage(cmd *cobra.Command, args []string) error {
	log, err := openUsageLog()
	if err != nil {
		return err
	}
	defer log.Close()

	until := time.Now()
	since := until.Add(-usageFlags.since)
	summary, err := log.SummarizeKey(cmd.Context(), args[0], since, until)
	if err != nil {
		return cli.NewCommandError("usage summary", err)
	}

	if cli.OutputFormat(usageFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, summary)
	}

	fmt.Printf("Key:           %s\n", summary.KeyID)
	fmt.Printf("Period:        %s to %s\n", since.Format(time.RFC3339), until.Format(time.RFC3339))
	fmt.Printf("Requests:      %d\n", summary.Requests)
	fmt.Printf("Input tokens:  %d\n", summary.InputTokens)
	fmt.Printf("Output tokens: %d\n", summary.OutputTokens)
	fmt.Printf("Cost:          $%.4f\n", summary.Cost)
	return nil
}

func recentUsage(cmd *cobra.Command, args []string) error {
	log, err := openUsageLog()
	if err != nil {
		return err
	}
	defer log.Close()

	entries, err := log.RecentEntries(cmd.Context(), args[0], usageFlags.limit)
	if err != nil {
		return cli.NewCommandError("usage recent", err)
	}

	if cli.OutputFormat(usageFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, entries)
	}

	if len(entries) == 0 {
		fmt.Println("No logged requests")
		return nil
	}
	for _, entry := range entries {
		outcome := "ok"
		if !entry.Completed {
			outcome = "truncated"
		}
		fmt.Printf("%s  %-24s in %6d  out %6d  $%.4f  %s\n",
			entry.CreatedAt.Format(time.RFC3339), entry.Model,
			entry.InputTokens, entry.OutputTokens, entry.Cost, outcome)
	}
	return nil
}
