package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"mercator-hq/callisto/pkg/accounts"
	"mercator-hq/callisto/pkg/cli"
)

var accountsFlags struct {
	name          string
	proxyType     string
	proxyHost     string
	proxyPort     int
	proxyUsername string
	proxyPassword string
	accessToken   string
	refreshToken  string
	expiresAt     int64
	format        string
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the upstream account pool",
	Long: `Add, authorize, and manage the OAuth accounts that serve relayed
requests.

A new account starts without tokens. Authorize it interactively with
"accounts login", or load tokens obtained elsewhere with
"accounts import-tokens". Token refresh afterwards is automatic.

Examples:
  # Add an account and authorize it
  callisto accounts add --name "pool-1"
  callisto accounts login <account-id>

  # Add an account behind a SOCKS5 proxy
  callisto accounts add --name "pool-2" --proxy-type socks5 \
    --proxy-host 10.0.0.5 --proxy-port 1080

  # Load existing tokens
  callisto accounts import-tokens <account-id> \
    --access-token ... --refresh-token ... --expires-at 1756300800000`,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account to the pool",
	RunE:  addAccount,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pool accounts",
	RunE:  listAccounts,
}

var accountsLoginCmd = &cobra.Command{
	Use:   "login <account-id>",
	Short: "Authorize an account interactively",
	Long: `Run the OAuth authorization flow for an account.

Prints the authorization URL, then waits for the callback URL (or the
bare authorization code) to be pasted back.`,
	Args: cobra.ExactArgs(1),
	RunE: loginAccount,
}

var accountsImportCmd = &cobra.Command{
	Use:   "import-tokens <account-id>",
	Short: "Load tokens obtained outside the login flow",
	Args:  cobra.ExactArgs(1),
	RunE:  importTokens,
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable <account-id>",
	Short: "Return an account to rotation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountStatus(cmd, args[0], accounts.StatusActive)
	},
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable <account-id>",
	Short: "Take an account out of rotation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAccountStatus(cmd, args[0], accounts.StatusDisabled)
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <account-id>",
	Short: "Remove an account from the pool",
	Args:  cobra.ExactArgs(1),
	RunE:  removeAccount,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd, accountsLoginCmd,
		accountsImportCmd, accountsEnableCmd, accountsDisableCmd, accountsRemoveCmd)

	accountsAddCmd.Flags().StringVar(&accountsFlags.name, "name", "", "display name")
	accountsAddCmd.Flags().StringVar(&accountsFlags.proxyType, "proxy-type", "", "proxy type: socks5 or http")
	accountsAddCmd.Flags().StringVar(&accountsFlags.proxyHost, "proxy-host", "", "proxy host")
	accountsAddCmd.Flags().IntVar(&accountsFlags.proxyPort, "proxy-port", 0, "proxy port")
	accountsAddCmd.Flags().StringVar(&accountsFlags.proxyUsername, "proxy-user", "", "proxy username")
	accountsAddCmd.Flags().StringVar(&accountsFlags.proxyPassword, "proxy-pass", "", "proxy password")

	accountsImportCmd.Flags().StringVar(&accountsFlags.accessToken, "access-token", "", "OAuth access token")
	accountsImportCmd.Flags().StringVar(&accountsFlags.refreshToken, "refresh-token", "", "OAuth refresh token")
	accountsImportCmd.Flags().Int64Var(&accountsFlags.expiresAt, "expires-at", 0, "access token expiry, milliseconds since epoch")
	accountsImportCmd.MarkFlagRequired("access-token")
	accountsImportCmd.MarkFlagRequired("refresh-token")

	accountsListCmd.Flags().StringVar(&accountsFlags.format, "format", "text", "output format: text, json")
}

func addAccount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("accounts add", err)
	}
	defer st.Close()

	var proxy *accounts.Proxy
	if accountsFlags.proxyType != "" {
		proxy = &accounts.Proxy{
			Type:     accountsFlags.proxyType,
			Host:     accountsFlags.proxyHost,
			Port:     accountsFlags.proxyPort,
			Username: accountsFlags.proxyUsername,
			Password: accountsFlags.proxyPassword,
		}
		if err := proxy.Validate(); err != nil {
			return cli.NewConfigError("proxy", err.Error())
		}
	}

	account, err := newPool(st, cfg).Add(ctx, accountsFlags.name, proxy)
	if err != nil {
		return cli.NewCommandError("accounts add", err)
	}

	fmt.Printf("Account ID: %s\n", account.ID)
	fmt.Printf("Name:       %s\n", account.Name)
	if proxy != nil {
		fmt.Printf("Proxy:      %s\n", proxy.Masked())
	}
	fmt.Println()
	fmt.Printf("Authorize it with: callisto accounts login %s\n", account.ID)
	return nil
}

func listAccounts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("accounts list", err)
	}
	defer st.Close()

	all, err := newPool(st, cfg).List(ctx)
	if err != nil {
		return cli.NewCommandError("accounts list", err)
	}

	if cli.OutputFormat(accountsFlags.format) == cli.FormatJSON {
		redacted := make([]accounts.Account, 0, len(all))
		for _, account := range all {
			redacted = append(redacted, account.Redacted())
		}
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, redacted)
	}

	if len(all) == 0 {
		fmt.Println("No accounts in the pool")
		return nil
	}
	now := time.Now()
	for _, account := range all {
		token := "no token"
		if account.AccessToken != "" {
			if account.TokenValidFor(now, 0) {
				token = fmt.Sprintf("expires %s", time.UnixMilli(account.ExpiresAt).Format(time.RFC3339))
			} else {
				token = "expired"
			}
		}
		fmt.Printf("%s  %-20s %-14s failures %d  %s\n",
			account.ID, account.Name, account.Status, account.ConsecutiveFailures, token)
	}
	return nil
}

func loginAccount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("accounts login", err)
	}
	defer st.Close()

	pool := newPool(st, cfg)
	authURL, err := pool.BeginAuthorization(ctx, args[0])
	if err != nil {
		return cli.NewCommandError("accounts login", err)
	}

	fmt.Println("Open this URL in a browser and authorize the account:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()
	fmt.Print("Paste the callback URL (or the code) here: ")

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return cli.NewCommandError("accounts login", fmt.Errorf("reading callback: %w", err))
	}

	account, err := pool.CompleteAuthorization(ctx, args[0], input)
	if err != nil {
		return cli.NewCommandError("accounts login", err)
	}

	fmt.Println()
	fmt.Printf("✓ Account %s authorized", account.ID)
	if account.Email != "" {
		fmt.Printf(" (%s)", account.Email)
	}
	fmt.Println()
	return nil
}

func importTokens(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("accounts import-tokens", err)
	}
	defer st.Close()

	expiresAt := accountsFlags.expiresAt
	if expiresAt == 0 {
		// No expiry given: treat the access token as already stale so the
		// first use refreshes it.
		expiresAt = time.Now().UnixMilli()
	}

	err = newPool(st, cfg).ImportTokens(ctx, args[0],
		accountsFlags.accessToken, accountsFlags.refreshToken, expiresAt)
	if err != nil {
		return cli.NewCommandError("accounts import-tokens", err)
	}
	fmt.Printf("✓ Tokens imported for account %s\n", args[0])
	return nil
}

func setAccountStatus(cmd *cobra.Command, id string, status accounts.Status) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("accounts", err)
	}
	defer st.Close()

	if err := newPool(st, cfg).SetStatus(ctx, id, status); err != nil {
		return cli.NewCommandError("accounts", err)
	}
	fmt.Printf("✓ Account %s is now %s\n", id, status)
	return nil
}

func removeAccount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("accounts remove", err)
	}
	defer st.Close()

	if err := newPool(st, cfg).Remove(ctx, args[0]); err != nil {
		return cli.NewCommandError("accounts remove", err)
	}
	fmt.Printf("✓ Account %s removed\n", args[0])
	return nil
}
