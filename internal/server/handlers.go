package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: s.now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(s.opts.SessionTTL.Seconds()),
	})
	s.writeJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(sessionID(r))
	if !ok {
		s.writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

type authStatusResponse struct {
	Email     string `json:"email,omitempty"`
	Connected bool   `json:"connected"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	if sess.ConnectionID == "" {
		s.writeJSON(w, http.StatusOK, authStatusResponse{})
		return
	}
	conn, err := s.deps.Store.GetConnection(r.Context(), sess.ConnectionID)
	if err != nil {
		s.writeJSON(w, http.StatusOK, authStatusResponse{})
		return
	}
	s.writeJSON(w, http.StatusOK, authStatusResponse{Connected: true, Email: conn.Email})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.sessions.Update(sessionID(r), func(sess *Session) { sess.ConnectionID = "" })
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// subscriptionInput is the editable part of a subscription. Absent fields
// are left unchanged on update.
type subscriptionInput struct {
	Name       *string          `json:"name"`
	Price      *decimal.Decimal `json:"price"`
	Currency   *string          `json:"currency"`
	Cycle      *model.Cycle     `json:"cycle"`
	Category   *string          `json:"category"`
	Suspicious *bool            `json:"suspicious"`
}

func (in *subscriptionInput) apply(sub *model.Subscription) {
	if in.Name != nil {
		sub.Name = *in.Name
	}
	if in.Price != nil {
		sub.Price = decimal.NewNullDecimal(*in.Price)
	}
	if in.Currency != nil {
		sub.Currency = *in.Currency
	}
	if in.Cycle != nil {
		sub.Cycle = *in.Cycle
	}
	if in.Category != nil {
		sub.Category = *in.Category
	}
	if in.Suspicious != nil {
		sub.Suspicious = *in.Suspicious
	}
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Store.GetSubscriptions(r.Context())
	if err != nil {
		s.fail(w, r, err, "Failed to read subscriptions")
		return
	}
	s.writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var in subscriptionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.Name == nil || *in.Name == "" || in.Price == nil {
		s.writeError(w, http.StatusBadRequest, "Name and price required")
		return
	}

	// Manual entries are certain.
	sub := &model.Subscription{
		Currency:   "€",
		Cycle:      model.CycleMonthly,
		Category:   "Other",
		Confidence: 1,
		LastSeen:   s.now(),
	}
	in.apply(sub)

	if err := s.deps.Store.CreateSubscription(r.Context(), sub); err != nil {
		s.fail(w, r, err, "Failed to create subscription")
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in subscriptionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub, err := s.deps.Store.GetSubscription(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "Failed to update subscription")
		return
	}
	in.apply(sub)
	sub.ID = id

	if err := s.deps.Store.UpdateSubscription(r.Context(), sub); err != nil {
		s.fail(w, r, err, "Failed to update subscription")
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err, "Failed to delete subscription")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
