package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/gmail"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/plaid"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

type scanResponse struct {
	Connection    *model.Connection    `json:"connection,omitempty"`
	Subscriptions []model.Subscription `json:"subscriptions"`
	Count         int                  `json:"count"`
	Success       bool                 `json:"success"`
}

func newScanResponse(subs []model.Subscription) scanResponse {
	if subs == nil {
		subs = []model.Subscription{}
	}
	return scanResponse{Success: true, Subscriptions: subs, Count: len(subs)}
}

func (s *Server) notConfigured(w http.ResponseWriter, provider string) {
	s.writeError(w, http.StatusServiceUnavailable, provider+" integration not configured")
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.deps.Store.GetConnections(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to list connections")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]model.Connection{"connections": conns})
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.RemoveConnection(r.Context(), id); err != nil {
		s.fail(w, r, err, "Failed to remove connection")
		return
	}
	s.sessions.Update(sessionID(r), func(sess *Session) {
		if sess.ConnectionID == id {
			sess.ConnectionID = ""
		}
	})
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGmailAuthURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.MailAuth == nil || s.deps.OpenMailbox == nil {
		s.notConfigured(w, "Gmail")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"authUrl": s.deps.MailAuth.AuthURL(sessionID(r))})
}

// handleGmailCallback stores the authorized account, binds it to the
// session named by state and scans it once.
func (s *Server) handleGmailCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.MailAuth == nil || s.deps.OpenMailbox == nil {
		s.notConfigured(w, "Gmail")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(w, http.StatusBadRequest, "No authorization code")
		return
	}
	sid := sessionID(r)
	if state := r.URL.Query().Get("state"); state != "" {
		if _, ok := s.sessions.Get(state); ok {
			sid = state
		}
	}

	ctx := r.Context()
	token, err := s.deps.MailAuth.Exchange(ctx, code)
	if err != nil {
		s.fail(w, r, err, "Failed to authenticate with Gmail")
		return
	}
	mailbox, err := s.deps.OpenMailbox(ctx, token)
	if err != nil {
		s.fail(w, r, err, "Failed to open mailbox")
		return
	}
	address, err := mailbox.Profile(ctx)
	if err != nil {
		s.fail(w, r, err, "Failed to read mailbox address")
		return
	}
	encoded, err := gmail.EncodeToken(token)
	if err != nil {
		s.fail(w, r, err, "Failed to store token")
		return
	}

	conn, err := s.saveConnection(ctx, &model.Connection{Email: address, Provider: model.ProviderGmail, Token: encoded})
	if err != nil {
		s.fail(w, r, err, "Failed to store connection")
		return
	}
	s.sessions.Update(sid, func(sess *Session) { sess.ConnectionID = conn.ID })

	res, err := s.deps.Scanner.ScanEmails(ctx, mailbox, nil)
	if err != nil {
		s.fail(w, r, err, "Failed to scan emails")
		return
	}
	s.persist(ctx, res.Subscriptions)
	if err := s.deps.Store.UpdateConnectionAfterScan(ctx, conn.ID, len(res.Subscriptions), s.now()); err != nil {
		s.logger.Warn("failed to record scan", "connection", conn.ID, "error", err)
	}

	out := newScanResponse(res.Subscriptions)
	out.Connection = conn
	s.writeJSON(w, http.StatusOK, out)
}

// saveConnection adds conn, replacing an earlier connection for the same
// address so a reconnect refreshes the stored token.
func (s *Server) saveConnection(ctx context.Context, conn *model.Connection) (*model.Connection, error) {
	err := s.deps.Store.AddConnection(ctx, conn)
	if !errors.Is(err, common.ErrDuplicateEntry) {
		return conn, err
	}

	existing, err := s.deps.Store.GetConnections(ctx)
	if err != nil {
		return nil, err
	}
	for _, old := range existing {
		if old.Email != conn.Email {
			continue
		}
		if err := s.deps.Store.RemoveConnection(ctx, old.ID); err != nil {
			return nil, err
		}
		conn.ID = old.ID
		conn.SubscriptionsFound = old.SubscriptionsFound
		conn.LastScan = old.LastScan
		break
	}
	return conn, s.deps.Store.AddConnection(ctx, conn)
}

// openConnection is the engine.FetcherFactory for stored connections.
func (s *Server) openConnection(ctx context.Context, conn model.Connection) (service.EmailFetcher, error) {
	if s.deps.OpenMailbox == nil {
		return nil, fmt.Errorf("gmail: %w", common.ErrMissingConfig)
	}
	token, err := gmail.DecodeToken(conn.Token)
	if err != nil {
		return nil, err
	}
	return s.deps.OpenMailbox(ctx, token)
}

func (s *Server) handlePlaidLinkToken(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plaid == nil {
		s.notConfigured(w, "Plaid")
		return
	}
	linkToken, err := s.deps.Plaid.CreateLinkToken(r.Context(), sessionID(r))
	if err != nil {
		s.fail(w, r, err, "Failed to create link token")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"linkToken": linkToken})
}

type exchangeRequest struct {
	PublicToken string `json:"publicToken"`
}

func (s *Server) handlePlaidExchange(w http.ResponseWriter, r *http.Request) {
	if s.deps.Plaid == nil {
		s.notConfigured(w, "Plaid")
		return
	}
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.PublicToken == "" {
		s.writeError(w, http.StatusBadRequest, "Public token required")
		return
	}

	ctx := r.Context()
	accessToken, itemID, err := s.deps.Plaid.ExchangePublicToken(ctx, req.PublicToken)
	if err != nil {
		s.fail(w, r, err, "Failed to exchange public token")
		return
	}
	s.logger.Info("Linked Plaid item", "item_id", itemID)
	s.sessions.Update(sessionID(r), func(sess *Session) { sess.PlaidToken = accessToken })

	now := s.now()
	window := service.DateRange{Start: now.Add(-plaid.DefaultLookback), End: now}
	res, err := s.deps.Scanner.ScanTransactions(ctx, s.deps.Plaid.WithAccessToken(accessToken), window, nil)
	if err != nil {
		s.fail(w, r, err, "Failed to detect subscriptions")
		return
	}
	s.persist(ctx, res.Subscriptions)
	s.writeJSON(w, http.StatusOK, newScanResponse(res.Subscriptions))
}

type nordigenInitRequest struct {
	Country       string `json:"country"`
	InstitutionID string `json:"institutionId"`
}

func (s *Server) handleNordigenInit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Nordigen == nil {
		s.notConfigured(w, "Nordigen")
		return
	}
	var req nordigenInitRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Country == "" {
		req.Country = "DE"
	}

	conn, err := s.deps.Nordigen.InitBankConnection(r.Context(), sessionID(r), req.Country, req.InstitutionID)
	if err != nil {
		s.fail(w, r, err, "Failed to start bank connection")
		return
	}
	s.sessions.Update(sessionID(r), func(sess *Session) { sess.RequisitionID = conn.RequisitionID })
	s.writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleNordigenTransactions(w http.ResponseWriter, r *http.Request) {
	if s.deps.BankLedger == nil {
		s.notConfigured(w, "Nordigen")
		return
	}
	sess := s.session(r)
	if sess.RequisitionID == "" {
		s.writeError(w, http.StatusBadRequest, "No bank connection found")
		return
	}

	ctx := r.Context()
	res, err := s.deps.Scanner.ScanTransactions(ctx, s.deps.BankLedger(sess.RequisitionID), service.LastYear(s.now()), nil)
	if err != nil {
		s.fail(w, r, err, "Failed to detect subscriptions")
		return
	}
	s.persist(ctx, res.Subscriptions)
	s.writeJSON(w, http.StatusOK, newScanResponse(res.Subscriptions))
}

// persist upserts detections. A failure is logged and does not fail the
// request, since the detections are still returned to the caller.
func (s *Server) persist(ctx context.Context, subs []model.Subscription) {
	if len(subs) == 0 {
		return
	}
	if err := s.deps.Store.SaveDetected(ctx, subs); err != nil {
		s.logger.Error("failed to save detected subscriptions", "count", len(subs), "error", err)
	}
}
