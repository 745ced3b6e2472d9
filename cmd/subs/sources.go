package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Veraticus/subscription-copilot/internal/classification"
	"github.com/Veraticus/subscription-copilot/internal/engine"
	"github.com/Veraticus/subscription-copilot/internal/importer"
	"github.com/Veraticus/subscription-copilot/internal/nordigen"
	"github.com/Veraticus/subscription-copilot/internal/plaid"
	"github.com/Veraticus/subscription-copilot/internal/service"
	"github.com/Veraticus/subscription-copilot/internal/simplefin"
)

// Source names accepted by --source.
const (
	sourceEmails    = "emails"
	sourceFiles     = "files"
	sourcePlaid     = "plaid"
	sourceNordigen  = "nordigen"
	sourceSimpleFIN = "simplefin"
)

var allSources = []string{sourceEmails, sourceFiles, sourcePlaid, sourceNordigen, sourceSimpleFIN}

type sourceOptions struct {
	names []string
	files []string
	since time.Duration
}

// wants reports whether a source was requested. An empty selection means
// every configured source.
func (o sourceOptions) wants(name string) bool {
	return len(o.names) == 0 || slices.Contains(o.names, name)
}

func (o sourceOptions) validate() error {
	for _, name := range o.names {
		if !slices.Contains(allSources, name) {
			return fmt.Errorf("unknown source %q (valid: %v)", name, allSources)
		}
	}
	if slices.Contains(o.names, sourceFiles) && len(o.files) == 0 {
		return fmt.Errorf("source %q needs at least one --file", sourceFiles)
	}
	return nil
}

// buildSources assembles the scan sources that are both requested and
// configured. Sources named explicitly but not configured are an error;
// implicit ones are skipped.
func buildSources(ctx context.Context, store service.Storage, scanner *engine.Scanner, h *classification.Heuristics, opts sourceOptions) ([]engine.Source, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	explicit := func(name string) bool { return slices.Contains(opts.names, name) }
	now := time.Now()
	window := service.LastYear(now)
	if opts.since > 0 {
		window = service.DateRange{Start: now.Add(-opts.since), End: now}
	}

	var sources []engine.Source

	if opts.wants(sourceEmails) {
		conns, err := store.GetConnections(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load connections: %w", err)
		}
		switch {
		case len(conns) > 0 && cfg.GmailConfigured():
			sources = append(sources, scanner.ConnectionsSource(sourceEmails, store, connectionOpener(mailboxOpener(h)), nil))
		case explicit(sourceEmails):
			return nil, fmt.Errorf("no Gmail account connected: run 'subs auth gmail' first")
		}
	}

	if opts.wants(sourceFiles) && len(opts.files) > 0 {
		fetcher := importer.NewFileFetcher(importer.NewRegistry(), opts.files...)
		sources = append(sources, scanner.TransactionSource(sourceFiles, fetcher, window))
	}

	if opts.wants(sourcePlaid) {
		switch {
		case cfg.PlaidConfigured() && cfg.Plaid.AccessToken != "":
			client, err := plaid.NewClient(cfg.PlaidClient())
			if err != nil {
				return nil, fmt.Errorf("failed to create Plaid client: %w", err)
			}
			plaidWindow := window
			if opts.since == 0 {
				plaidWindow = service.DateRange{Start: now.Add(-plaid.DefaultLookback), End: now}
			}
			sources = append(sources, scanner.TransactionSource(sourcePlaid, client, plaidWindow))
		case explicit(sourcePlaid):
			return nil, fmt.Errorf("plaid is not linked: run 'subs auth plaid' first")
		}
	}

	if opts.wants(sourceNordigen) {
		switch {
		case cfg.NordigenConfigured() && cfg.Nordigen.RequisitionID != "":
			client, err := nordigen.NewClient(cfg.NordigenClient())
			if err != nil {
				return nil, fmt.Errorf("failed to create GoCardless client: %w", err)
			}
			sources = append(sources, scanner.TransactionSource(sourceNordigen, client, window))
		case explicit(sourceNordigen):
			return nil, fmt.Errorf("no bank requisition configured: run 'subs auth nordigen' first")
		}
	}

	if opts.wants(sourceSimpleFIN) {
		switch {
		case cfg.SimpleFIN.Token != "":
			client, err := simplefin.NewClientFromToken(ctx, cfg.SimpleFIN.Token, cfg.SimpleFIN.StateFile)
			if err != nil {
				return nil, fmt.Errorf("failed to create SimpleFIN client: %w", err)
			}
			sources = append(sources, scanner.TransactionSource(sourceSimpleFIN, client, window))
		case explicit(sourceSimpleFIN):
			return nil, fmt.Errorf("simplefin.token is not set")
		}
	}

	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name)
	}
	slog.Debug("Scan sources ready", "sources", names)
	return sources, nil
}
