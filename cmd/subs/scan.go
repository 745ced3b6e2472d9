package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subscription-copilot/internal/cli"
	"github.com/Veraticus/subscription-copilot/internal/engine"
	"github.com/Veraticus/subscription-copilot/internal/tui"
)

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Detect subscriptions from every connected source",
		Long: `Scan connected Gmail accounts, bank feeds and ledger files for recurring
charges and merge them into one subscription list.

Sources are picked automatically from what is configured. Use --source to
restrict the scan, and --file to add OFX, QFX or CSV exports.`,
		Example: `  subs scan
  subs scan --source emails --tui
  subs scan --file ~/Downloads/checking.ofx --source files --json`,
		RunE: runScan,
	}

	cmd.Flags().StringSlice("source", nil, "sources to scan (emails, files, plaid, nordigen, simplefin)")
	cmd.Flags().StringSlice("file", nil, "ledger file to scan (.ofx, .qfx, .csv); repeatable")
	cmd.Flags().Duration("since", 0, "how far back bank sources reach (default: about a year)")
	cmd.Flags().Bool("json", false, "print the result as JSON")
	cmd.Flags().Bool("tui", false, "show the interactive scan view")
	cmd.Flags().String("theme", "default", "TUI theme (default, catppuccin-mocha)")
	cmd.Flags().Bool("no-save", false, "do not store detected subscriptions")

	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	names, _ := cmd.Flags().GetStringSlice("source")
	files, _ := cmd.Flags().GetStringSlice("file")
	since, _ := cmd.Flags().GetDuration("since")
	asJSON, _ := cmd.Flags().GetBool("json")
	useTUI, _ := cmd.Flags().GetBool("tui")
	theme, _ := cmd.Flags().GetString("theme")
	noSave, _ := cmd.Flags().GetBool("no-save")

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

	sources, err := buildSources(ctx, store, scanner, h, sourceOptions{names: names, files: files, since: since})
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return errors.New("nothing to scan: run 'subs auth gmail', link a bank, or pass --file")
	}

	var result *engine.SyncResult
	if useTUI {
		result, err = scanWithTUI(ctx, scanner, sources, theme)
		if err != nil {
			return err
		}
	} else {
		interrupts := cli.NewInterruptHandler(os.Stderr)
		scanCtx := interrupts.HandleInterrupts(ctx, !noSave)
		defer interrupts.Stop()

		obs := engine.MultiObserver(cli.NewProgressObserver(os.Stderr), logObserver(slog.Default().With("component", "scan")))
		result = scanner.Sync(scanCtx, sources, obs)
	}

	if !noSave {
		// Partial results from an interrupted scan are still saved.
		if err := store.SaveDetected(context.WithoutCancel(ctx), result.Subscriptions); err != nil {
			return fmt.Errorf("failed to save subscriptions: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printSyncResult(out, result)
}

func scanWithTUI(ctx context.Context, scanner *engine.Scanner, sources []engine.Source, theme string) (*engine.SyncResult, error) {
	var result *engine.SyncResult
	_, err := tui.RunScan(ctx, tui.GetTheme(theme), func(ctx context.Context, obs engine.Observer) (*engine.Result, error) {
		result = scanner.Sync(ctx, sources, obs)
		return &engine.Result{
			Subscriptions: result.Subscriptions,
			Cancelled:     ctx.Err() != nil,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// logObserver records phase changes and failures in the structured log,
// alongside the progress bar.
func logObserver(logger *slog.Logger) engine.Observer {
	return engine.ObserverFunc(func(e engine.Event) {
		switch e.Type {
		case engine.EventStatus:
			logger.Debug("Scan status", "phase", e.Phase, "message", e.Message)
		case engine.EventError:
			logger.Warn("Scan error", "phase", e.Phase, "error", e.Message)
		case engine.EventComplete:
			logger.Info("Scan complete", "subscriptions", len(e.Subscriptions), "message", e.Message)
		}
	})
}

func printSyncResult(w io.Writer, result *engine.SyncResult) error {
	for _, src := range result.Sources {
		line := fmt.Sprintf("%s: %d subscriptions", src.Name, src.Count)
		if !src.Success {
			line = cli.FormatWarning(fmt.Sprintf("%s: %s", src.Name, src.Error))
		} else {
			line = cli.FormatSuccess(line)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return cli.RenderSubscriptions(w, result.Subscriptions)
}
