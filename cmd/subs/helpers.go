package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/Veraticus/subscription-copilot/internal/classification"
	"github.com/Veraticus/subscription-copilot/internal/engine"
	"github.com/Veraticus/subscription-copilot/internal/extract"
	"github.com/Veraticus/subscription-copilot/internal/gmail"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/recurring"
	"github.com/Veraticus/subscription-copilot/internal/server"
	"github.com/Veraticus/subscription-copilot/internal/service"
	"github.com/Veraticus/subscription-copilot/internal/storage"
)

// initStorage opens the database and applies migrations.
func initStorage(ctx context.Context) (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// newScanner builds the detection engine from the configured tables. HTML-only
// receipts are converted to text before classification.
func newScanner() (*engine.Scanner, *classification.Heuristics, error) {
	h, err := cfg.LoadHeuristics()
	if err != nil {
		return nil, nil, err
	}
	classifier := classification.NewEmailClassifier(h,
		classification.WithLogger(slog.Default().With("component", "classifier")),
		classification.WithExtractOptions(extract.WithHTMLFallback(extract.NewHTMLConverter())),
	)
	return engine.NewScanner(classifier, recurring.New()), h, nil
}

// mailboxOpener opens Gmail with a token using the configured search options.
func mailboxOpener(h *classification.Heuristics) server.MailboxOpener {
	oauthCfg := cfg.GmailOAuth()
	opts := cfg.GmailOptions(h)
	return func(ctx context.Context, token *oauth2.Token) (server.Mailbox, error) {
		fetcher, err := gmail.NewFetcher(ctx, oauthCfg, token, opts...)
		if err != nil {
			return nil, err
		}
		return fetcher, nil
	}
}

// connectionOpener opens the mailbox behind a stored connection.
func connectionOpener(open server.MailboxOpener) engine.FetcherFactory {
	return func(ctx context.Context, conn model.Connection) (service.EmailFetcher, error) {
		token, err := gmail.DecodeToken(conn.Token)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", conn.Email, err)
		}
		return open(ctx, token)
	}
}
