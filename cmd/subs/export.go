package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/service"
	"github.com/Veraticus/subscription-copilot/internal/sheets"
)

// newSheetsWriter builds the Google Sheets exporter from the loaded config.
var newSheetsWriter = func(ctx context.Context) (service.SubscriptionWriter, error) {
	w, err := sheets.NewWriter(ctx, cfg.SheetsWriter(), slog.Default().With("component", "sheets"))
	if err != nil {
		return nil, err
	}
	return w, nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored subscriptions",
		Long: `Export the stored subscription list to Google Sheets or as JSON.

Sheets export needs sheets.service_account_path, or sheets.client_id,
sheets.client_secret and sheets.refresh_token. Without sheets.spreadsheet_id
a new spreadsheet is created.`,
		RunE: runExport,
	}

	cmd.Flags().String("format", "sheets", "export format (sheets, json)")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("format")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()

	subs, err := store.GetSubscriptions(ctx)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(subs)

	case "sheets":
		writer, err := newSheetsWriter(ctx)
		if err != nil {
			return fmt.Errorf("failed to create sheets writer: %w", err)
		}
		if err := writer.Write(ctx, subs); err != nil {
			return fmt.Errorf("failed to export: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Exported %d subscriptions to Google Sheets", len(subs))))
		return nil

	default:
		return fmt.Errorf("unknown format %q (valid: sheets, json)", format)
	}
}
