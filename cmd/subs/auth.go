package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/config"
	"github.com/Veraticus/subscription-copilot/internal/gmail"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/nordigen"
	"github.com/Veraticus/subscription-copilot/internal/service"
	"github.com/Veraticus/subscription-copilot/internal/simplefin"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Connect mailboxes and bank feeds",
		Long:  `Connect Gmail accounts and bank data providers (Plaid, GoCardless, SimpleFIN).`,
	}

	cmd.AddCommand(authGmailCmd())
	cmd.AddCommand(authPlaidCmd())
	cmd.AddCommand(authNordigenCmd())
	cmd.AddCommand(authSimpleFINCmd())

	return cmd
}

func authGmailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gmail",
		Short: "Connect a Gmail account",
		Long: `Connect a Gmail account with read-only access.

This command will:
1. Start a temporary callback server on localhost
2. Open Google's consent screen in your browser
3. Store the account so 'subs scan' includes it

Run it again with --new to add another account.`,
		RunE: runAuthGmail,
	}

	cmd.Flags().Bool("new", false, "ignore the saved token and connect another account")

	return cmd
}

func runAuthGmail(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	oauthCfg := cfg.GmailOAuth()
	if err := oauthCfg.Validate(); err != nil {
		return fmt.Errorf("gmail client credentials missing: set gmail.client_id and gmail.client_secret: %w", err)
	}

	announce := func(url string) {
		slog.Info("Opening your browser to connect Gmail...")
		slog.Info("If the browser doesn't open, visit:", "url", url)
		openBrowser(url)
	}

	fresh, _ := cmd.Flags().GetBool("new")
	tokenCfg := oauthCfg
	if fresh {
		tokenCfg.TokenFile = ""
	}
	tok, err := gmail.GetOrCreateToken(ctx, tokenCfg, announce)
	if err != nil {
		return fmt.Errorf("gmail authentication failed: %w", err)
	}

	h, err := cfg.LoadHeuristics()
	if err != nil {
		return err
	}
	mailbox, err := mailboxOpener(h)(ctx, tok)
	if err != nil {
		return fmt.Errorf("failed to open mailbox: %w", err)
	}
	address, err := mailbox.Profile(ctx)
	if err != nil {
		return fmt.Errorf("failed to read mailbox address: %w", err)
	}
	encoded, err := gmail.EncodeToken(tok)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()

	if err := upsertConnection(ctx, store, &model.Connection{Email: address, Provider: model.ProviderGmail, Token: encoded}); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(cli.MailIcon+" Connected "+address))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Run 'subs scan' to look for subscriptions"))
	return nil
}

// upsertConnection stores conn, replacing an older token for the same address.
func upsertConnection(ctx context.Context, store service.Storage, conn *model.Connection) error {
	err := store.AddConnection(ctx, conn)
	if !errors.Is(err, common.ErrDuplicateEntry) {
		return err
	}
	existing, err := store.GetConnections(ctx)
	if err != nil {
		return err
	}
	for _, old := range existing {
		if old.Email != conn.Email {
			continue
		}
		if err := store.RemoveConnection(ctx, old.ID); err != nil {
			return err
		}
		conn.ID = old.ID
		conn.LastScan = old.LastScan
		conn.SubscriptionsFound = old.SubscriptionsFound
		break
	}
	return store.AddConnection(ctx, conn)
}

func authNordigenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nordigen",
		Short: "Link a European bank through GoCardless",
		Long: `Create a GoCardless requisition for a bank and print its authorization link.

Find the institution id with 'subs institutions --country DE'. The requisition
id is saved to the config file so later scans read its transactions.`,
		RunE: runAuthNordigen,
	}

	cmd.Flags().String("institution", "", "GoCardless institution id (required)")
	cmd.Flags().String("country", "DE", "two-letter country code")
	_ = cmd.MarkFlagRequired("institution")

	return cmd
}

func runAuthNordigen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	client, err := nordigen.NewClient(cfg.NordigenClient())
	if err != nil {
		return fmt.Errorf("GoCardless credentials missing: set nordigen.secret_id and nordigen.secret_key: %w", err)
	}

	institution, _ := cmd.Flags().GetString("institution")
	country, _ := cmd.Flags().GetString("country")

	conn, err := client.InitBankConnection(ctx, uuid.NewString(), country, institution)
	if err != nil {
		return fmt.Errorf("failed to start bank connection: %w", err)
	}

	if err := config.SetValues(configPath(), map[string]any{"nordigen.requisition_id": conn.RequisitionID}); err != nil {
		return fmt.Errorf("failed to save requisition: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, cli.FormatSuccess(cli.BankIcon+" Requisition "+conn.RequisitionID+" saved"))
	_, _ = fmt.Fprintln(out, cli.FormatInfo("Authorize access in your browser:"))
	_, _ = fmt.Fprintln(out, "  "+conn.Link)
	openBrowser(conn.Link)
	return nil
}

func authSimpleFINCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simplefin [setup-token]",
		Short: "Claim a SimpleFIN Bridge setup token",
		Long: `Claim a SimpleFIN Bridge setup token and store the resulting access URL.

Without an argument the token from simplefin.token is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAuthSimpleFIN,
	}
}

func runAuthSimpleFIN(cmd *cobra.Command, args []string) error {
	token := cfg.SimpleFIN.Token
	if len(args) == 1 {
		token = args[0]
	}
	if token == "" {
		return fmt.Errorf("no setup token: pass one or set simplefin.token")
	}

	if _, err := simplefin.LoadOrClaimAuth(cmd.Context(), http.DefaultClient, token, cfg.SimpleFIN.StateFile); err != nil {
		return fmt.Errorf("failed to claim SimpleFIN token: %w", err)
	}
	if len(args) == 1 {
		if err := config.SetValues(configPath(), map[string]any{"simplefin.token": token}); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(cli.BankIcon+" SimpleFIN connected"))
	return nil
}

// configPath is the file auth and init commands write to.
func configPath() string {
	if cfgFile != "" {
		return config.ExpandPath(cfgFile)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return config.DefaultFile()
}

// openBrowser tries to open the URL in the default browser.
func openBrowser(url string) {
	if os.Getenv("SUBS_NO_BROWSER") != "" {
		return
	}
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start() //nolint:gosec
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start() //nolint:gosec
	case "darwin":
		err = exec.Command("open", url).Start() //nolint:gosec
	}
	if err != nil {
		slog.Debug("Failed to open browser", "error", err)
	}
}
