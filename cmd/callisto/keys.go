package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/callisto/pkg/cli"
	"mercator-hq/callisto/pkg/keys"
)

var keysFlags struct {
	name              string
	expires           time.Duration
	activationWindow  time.Duration
	dailyCostLimit    float64
	totalCostLimit    float64
	weeklyOpusLimit   float64
	rateLimitWindow   time.Duration
	rateLimitRequests int64
	rateLimitCost     float64
	concurrencyLimit  int64
	allowedModels     []string
	allowedClients    []string
	tags              []string
	format            string
	includeDeleted    bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage client API keys",
	Long: `Issue, inspect, and update the API keys clients present to the gateway.

The plaintext credential is printed exactly once at generation; only its
hash is stored. Keys can carry cost ceilings, rate limits, concurrency
caps, and model or client restrictions. A zero limit means unlimited.

Examples:
  # Issue a key with a daily spend ceiling
  callisto keys generate --name "team-web" --daily-cost-limit 25

  # Issue a key that expires 30 days after first use
  callisto keys generate --name "trial" --activation-window 720h

  # Restrict a key to one model family
  callisto keys generate --name "batch" --allowed-models claude-haiku-3

  # List keys with live usage
  callisto keys list --format json`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Issue a new API key",
	Long: `Issue a new API key and print the plaintext credential.

The credential is shown exactly once and cannot be recovered. Store it
securely.`,
	RunE: generateKey,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys with live usage",
	RunE:  listKeys,
}

var keysDisableCmd = &cobra.Command{
	Use:   "disable <key-id>",
	Short: "Disable a key without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setKeyActive(cmd, args[0], false) },
}

var keysEnableCmd = &cobra.Command{
	Use:   "enable <key-id>",
	Short: "Re-enable a disabled key",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setKeyActive(cmd, args[0], true) },
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Soft-delete a key",
	Long: `Soft-delete a key. The record is kept for usage history but the key
no longer validates and is excluded from listings.`,
	Args: cobra.ExactArgs(1),
	RunE: deleteKey,
}

var keysUpdateCmd = &cobra.Command{
	Use:   "update <key-id>",
	Short: "Update a key's limits and restrictions",
	Long: `Update a key in place. Only the flags given change; the update is
all-or-nothing and re-validates the merged record.`,
	Args: cobra.ExactArgs(1),
	RunE: updateKey,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd, keysListCmd, keysUpdateCmd,
		keysEnableCmd, keysDisableCmd, keysDeleteCmd)

	for _, cmd := range []*cobra.Command{keysGenerateCmd, keysUpdateCmd} {
		cmd.Flags().StringVar(&keysFlags.name, "name", "", "display name")
		cmd.Flags().DurationVar(&keysFlags.expires, "expires-in", 0, "fixed expiry from now (0 = never)")
		cmd.Flags().Float64Var(&keysFlags.dailyCostLimit, "daily-cost-limit", 0, "USD ceiling per day (0 = unlimited)")
		cmd.Flags().Float64Var(&keysFlags.totalCostLimit, "total-cost-limit", 0, "lifetime USD ceiling (0 = unlimited)")
		cmd.Flags().Float64Var(&keysFlags.weeklyOpusLimit, "weekly-opus-cost-limit", 0, "USD ceiling per ISO week for Opus models (0 = unlimited)")
		cmd.Flags().DurationVar(&keysFlags.rateLimitWindow, "rate-window", 0, "rate limit window (0 = no rate limit)")
		cmd.Flags().Int64Var(&keysFlags.rateLimitRequests, "rate-requests", 0, "max requests per window (0 = unlimited)")
		cmd.Flags().Float64Var(&keysFlags.rateLimitCost, "rate-cost", 0, "max USD per window (0 = unlimited)")
		cmd.Flags().Int64Var(&keysFlags.concurrencyLimit, "concurrency", 0, "max in-flight requests (0 = unlimited)")
		cmd.Flags().StringSliceVar(&keysFlags.allowedModels, "allowed-models", nil, "restrict to these models")
		cmd.Flags().StringSliceVar(&keysFlags.allowedClients, "allowed-clients", nil, "restrict to these client identifiers")
		cmd.Flags().StringSliceVar(&keysFlags.tags, "tags", nil, "free-form tags")
	}
	keysGenerateCmd.Flags().DurationVar(&keysFlags.activationWindow, "activation-window", 0, "rolling expiry from first use (0 = disabled)")

	keysListCmd.Flags().StringVar(&keysFlags.format, "format", "text", "output format: text, json, csv")
	keysListCmd.Flags().BoolVar(&keysFlags.includeDeleted, "include-deleted", false, "include soft-deleted keys")
}

func generateKey(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}
	defer st.Close()

	params := keys.GenerateParams{
		Name:                      keysFlags.name,
		ActivationWindow:          keysFlags.activationWindow,
		DailyCostLimit:            keysFlags.dailyCostLimit,
		TotalCostLimit:            keysFlags.totalCostLimit,
		WeeklyOpusCostLimit:       keysFlags.weeklyOpusLimit,
		RateLimitWindow:           keysFlags.rateLimitWindow,
		RateLimitRequests:         keysFlags.rateLimitRequests,
		RateLimitCost:             keysFlags.rateLimitCost,
		ConcurrencyLimit:          keysFlags.concurrencyLimit,
		ModelRestrictionsEnabled:  len(keysFlags.allowedModels) > 0,
		AllowedModels:             keysFlags.allowedModels,
		ClientRestrictionsEnabled: len(keysFlags.allowedClients) > 0,
		AllowedClients:            keysFlags.allowedClients,
		Tags:                      keysFlags.tags,
	}
	if keysFlags.expires > 0 {
		params.ExpiresAt = time.Now().Add(keysFlags.expires)
	}

	rec, credential, err := newKeyService(st, cfg, nil).Generate(ctx, params)
	if err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	fmt.Printf("Key ID:     %s\n", rec.ID)
	fmt.Printf("Name:       %s\n", rec.Name)
	fmt.Printf("Credential: %s\n", credential)
	fmt.Println()
	fmt.Println("Store the credential securely. It will not be shown again.")
	return nil
}

func listKeys(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("keys list", err)
	}
	defer st.Close()

	summaries, err := newKeyService(st, cfg, nil).List(ctx, keysFlags.includeDeleted)
	if err != nil {
		return cli.NewCommandError("keys list", err)
	}

	switch cli.OutputFormat(keysFlags.format) {
	case cli.FormatJSON:
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, summaries)
	case cli.FormatCSV:
		rows := [][]string{{"id", "name", "active", "daily_cost", "total_cost", "concurrency"}}
		for _, s := range summaries {
			rows = append(rows, []string{
				s.Record.ID,
				s.Record.Name,
				fmt.Sprintf("%t", s.Record.Active),
				fmt.Sprintf("%.4f", s.Usage.DailyCost),
				fmt.Sprintf("%.4f", s.Usage.TotalCost),
				fmt.Sprintf("%d", s.Usage.Concurrency),
			})
		}
		return cli.NewFormatter(cli.FormatCSV).FormatTo(os.Stdout, rows)
	default:
		if len(summaries) == 0 {
			fmt.Println("No keys found")
			return nil
		}
		for _, s := range summaries {
			state := "active"
			if !s.Record.Active {
				state = "disabled"
			}
			if s.Record.Deleted {
				state = "deleted"
			}
			fmt.Printf("%s  %-20s %-8s daily $%.4f  total $%.4f  in-flight %d\n",
				s.Record.ID, s.Record.Name, state,
				s.Usage.DailyCost, s.Usage.TotalCost, s.Usage.Concurrency)
		}
		return nil
	}
}

func setKeyActive(cmd *cobra.Command, id string, active bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("keys", err)
	}
	defer st.Close()

	if _, err := newKeyService(st, cfg, nil).Update(ctx, id, keys.Patch{Active: &active}); err != nil {
		return cli.NewCommandError("keys", err)
	}
	if active {
		fmt.Printf("✓ Key %s enabled\n", id)
	} else {
		fmt.Printf("✓ Key %s disabled\n", id)
	}
	return nil
}

func deleteKey(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("keys delete", err)
	}
	defer st.Close()

	deleted := true
	if _, err := newKeyService(st, cfg, nil).Update(ctx, args[0], keys.Patch{Deleted: &deleted}); err != nil {
		return cli.NewCommandError("keys delete", err)
	}
	fmt.Printf("✓ Key %s deleted\n", args[0])
	return nil
}

func updateKey(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("keys update", err)
	}
	defer st.Close()

	// Only flags the operator actually set become part of the patch.
	var patch keys.Patch
	flags := cmd.Flags()
	if flags.Changed("name") {
		patch.Name = &keysFlags.name
	}
	if flags.Changed("expires-in") {
		expires := time.Now().Add(keysFlags.expires)
		patch.ExpiresAt = &expires
	}
	if flags.Changed("daily-cost-limit") {
		patch.DailyCostLimit = &keysFlags.dailyCostLimit
	}
	if flags.Changed("total-cost-limit") {
		patch.TotalCostLimit = &keysFlags.totalCostLimit
	}
	if flags.Changed("weekly-opus-cost-limit") {
		patch.WeeklyOpusCostLimit = &keysFlags.weeklyOpusLimit
	}
	if flags.Changed("rate-window") {
		patch.RateLimitWindow = &keysFlags.rateLimitWindow
	}
	if flags.Changed("rate-requests") {
		patch.RateLimitRequests = &keysFlags.rateLimitRequests
	}
	if flags.Changed("rate-cost") {
		patch.RateLimitCost = &keysFlags.rateLimitCost
	}
	if flags.Changed("concurrency") {
		patch.ConcurrencyLimit = &keysFlags.concurrencyLimit
	}
	if flags.Changed("allowed-models") {
		enabled := len(keysFlags.allowedModels) > 0
		patch.ModelRestrictionsEnabled = &enabled
		patch.AllowedModels = keysFlags.allowedModels
	}
	if flags.Changed("allowed-clients") {
		enabled := len(keysFlags.allowedClients) > 0
		patch.ClientRestrictionsEnabled = &enabled
		patch.AllowedClients = keysFlags.allowedClients
	}
	if flags.Changed("tags") {
		patch.Tags = keysFlags.tags
	}

	rec, err := newKeyService(st, cfg, nil).Update(ctx, args[0], patch)
	if err != nil {
		return cli.NewCommandError("keys update", err)
	}
	fmt.Printf("✓ Key %s updated", rec.ID)
	if len(rec.Tags) > 0 {
		fmt.Printf(" [%s]", strings.Join(rec.Tags, ", "))
	}
	fmt.Println()
	return nil
}
