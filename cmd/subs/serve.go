package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/certs"
	"github.com/Veraticus/subscription-copilot/internal/config"
	"github.com/Veraticus/subscription-copilot/internal/nordigen"
	"github.com/Veraticus/subscription-copilot/internal/plaid"
	"github.com/Veraticus/subscription-copilot/internal/server"
	"github.com/Veraticus/subscription-copilot/internal/service"
	"github.com/Veraticus/subscription-copilot/internal/simplefin"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for the web dashboard",
		Long: `Serve the subscription API: Gmail and bank connection flows, scans with
live progress over server-sent events, and subscription CRUD.

Providers without credentials stay disabled and answer 503.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed localhost certificate")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()

	scanner, h, err := newScanner()
	if err != nil {
		return err
	}

	deps := server.Deps{
		Store:   store,
		Scanner: scanner,
		Logger:  slog.Default().With("component", "server"),
	}

	if cfg.GmailConfigured() {
		deps.MailAuth = cfg.GmailOAuth()
		deps.OpenMailbox = mailboxOpener(h)
	} else {
		slog.Warn("Gmail credentials missing, mail routes disabled")
	}

	if cfg.PlaidConfigured() {
		client, err := plaid.NewClient(cfg.PlaidClient())
		if err != nil {
			return fmt.Errorf("failed to create Plaid client: %w", err)
		}
		deps.Plaid = client
	}

	if cfg.NordigenConfigured() {
		client, err := nordigen.NewClient(cfg.NordigenClient())
		if err != nil {
			return fmt.Errorf("failed to create GoCardless client: %w", err)
		}
		deps.Nordigen = client
		deps.BankLedger = func(requisitionID string) service.TransactionFetcher {
			return client.ForRequisition(requisitionID)
		}
	}

	if cfg.SimpleFIN.Token != "" {
		client, err := simplefin.NewClientFromToken(ctx, cfg.SimpleFIN.Token, cfg.SimpleFIN.StateFile)
		if err != nil {
			slog.Warn("SimpleFIN unavailable", "error", err)
		} else {
			deps.SimpleFIN = client
		}
	}

	opts := server.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SessionTTL:     cfg.Server.SessionTTL,
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		opts.Addr = addr
	}
	if useTLS, _ := cmd.Flags().GetBool("tls"); useTLS {
		tlsConfig, err := certs.NewStore(filepath.Join(config.DefaultDir(), "certs")).TLSConfig()
		if err != nil {
			return fmt.Errorf("failed to prepare TLS: %w", err)
		}
		opts.TLS = tlsConfig
	}

	srv, err := server.New(deps, opts)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
