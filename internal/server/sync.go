package server

import (
	"net/http"

	"github.com/Veraticus/subscription-copilot/internal/engine"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/plaid"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

type syncResponse struct {
	Emails        *engine.ConnectionsResult `json:"emails"`
	Sources       []engine.SourceResult     `json:"sources"`
	Subscriptions []model.Subscription      `json:"subscriptions"`
	TotalFound    int                       `json:"totalFound"`
}

// handleSync re-scans every connected mailbox and every bank source the
// session or configuration provides, then merges the results.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := s.session(r)
	now := s.now()
	scanner := s.deps.Scanner

	out := syncResponse{}
	sources := []engine.Source{
		scanner.ConnectionsSource("emails", s.deps.Store, s.openConnection, func(cr *engine.ConnectionsResult) {
			out.Emails = cr
		}),
	}
	if s.deps.Plaid != nil && sess.PlaidToken != "" {
		window := service.DateRange{Start: now.Add(-plaid.DefaultLookback), End: now}
		sources = append(sources, scanner.TransactionSource("plaid", s.deps.Plaid.WithAccessToken(sess.PlaidToken), window))
	}
	if s.deps.BankLedger != nil && sess.RequisitionID != "" {
		sources = append(sources, scanner.TransactionSource("nordigen", s.deps.BankLedger(sess.RequisitionID), service.LastYear(now)))
	}
	if s.deps.SimpleFIN != nil {
		sources = append(sources, scanner.TransactionSource("simplefin", s.deps.SimpleFIN, service.LastYear(now)))
	}

	res := scanner.Sync(ctx, sources, nil)
	s.persist(ctx, res.Subscriptions)

	out.Sources = res.Sources
	out.Subscriptions = res.Subscriptions
	if out.Subscriptions == nil {
		out.Subscriptions = []model.Subscription{}
	}
	out.TotalFound = res.TotalFound
	s.writeJSON(w, http.StatusOK, out)
}
