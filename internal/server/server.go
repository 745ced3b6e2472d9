// Package server exposes the detection engine and the subscription store
// over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/oauth2"

	"github.com/Veraticus/subscription-copilot/internal/engine"
	"github.com/Veraticus/subscription-copilot/internal/nordigen"
	"github.com/Veraticus/subscription-copilot/internal/plaid"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// MailAuth runs the OAuth handshake for a mail provider.
type MailAuth interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Mailbox is a fetcher that can name its own address.
type Mailbox interface {
	service.EmailFetcher
	Profile(ctx context.Context) (string, error)
}

// MailboxOpener opens a mailbox with an authorized token.
type MailboxOpener func(ctx context.Context, token *oauth2.Token) (Mailbox, error)

// BankLinker starts a bank authorization through GoCardless.
type BankLinker interface {
	InitBankConnection(ctx context.Context, reference, country, institutionID string) (*nordigen.Connection, error)
}

// Deps wires the server to its collaborators. A nil provider disables its
// routes, which then answer 503.
type Deps struct {
	Store       service.Storage
	Scanner     *engine.Scanner
	MailAuth    MailAuth
	OpenMailbox MailboxOpener
	Plaid       plaid.Linker
	Nordigen    BankLinker
	BankLedger  func(requisitionID string) service.TransactionFetcher
	SimpleFIN   service.TransactionFetcher
	Logger      *slog.Logger
}

// Options tunes the HTTP surface.
type Options struct {
	TLS            *tls.Config
	Addr           string
	AllowedOrigins []string
	SessionTTL     time.Duration
}

// Server is the HTTP boundary.
type Server struct {
	deps     Deps
	router   *chi.Mux
	sessions *SessionStore
	logger   *slog.Logger
	now      func() time.Time
	opts     Options
}

// New builds the router.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Store == nil || deps.Scanner == nil {
		return nil, errors.New("server requires a store and a scanner")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}

	s := &Server{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sessions: NewSessionStore(opts.SessionTTL),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(s.opts.AllowedOrigins))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Route("/api/session", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleGetSession)
		})

		r.Route("/api/auth", func(r chi.Router) {
			r.Get("/status", s.handleAuthStatus)
			r.Post("/disconnect", s.handleDisconnect)
		})

		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Post("/", s.handleCreateSubscription)
			r.Put("/{id}", s.handleUpdateSubscription)
			r.Delete("/{id}", s.handleDeleteSubscription)
		})

		r.Route("/api/connect", func(r chi.Router) {
			r.Get("/emails", s.handleListConnections)
			r.Delete("/emails/{id}", s.handleRemoveConnection)
			r.Get("/gmail", s.handleGmailAuthURL)
			r.Get("/gmail/callback", s.handleGmailCallback)
			r.Post("/plaid/link-token", s.handlePlaidLinkToken)
			r.Post("/plaid/exchange", s.handlePlaidExchange)
			r.Post("/nordigen/init", s.handleNordigenInit)
			r.Get("/nordigen/transactions", s.handleNordigenTransactions)
		})

		r.Get("/api/scan-subscriptions", s.handleScan)
		r.Get("/api/scan-subscriptions/stream", s.handleScanStream)
		r.Post("/api/sync", s.handleSync)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.opts.TLS,
	}

	errCh := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			s.logger.Info("Server listening", "addr", s.opts.Addr, "tls", true)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		s.logger.Info("Server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
