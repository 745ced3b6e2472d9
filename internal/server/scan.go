package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/engine"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

var errNoMailbox = errors.New("no mailbox connected")

// sessionMailbox opens the mailbox bound to the request's session.
func (s *Server) sessionMailbox(ctx context.Context, r *http.Request) (*model.Connection, service.EmailFetcher, error) {
	sess := s.session(r)
	if sess.ConnectionID == "" {
		return nil, nil, errNoMailbox
	}
	conn, err := s.deps.Store.GetConnection(ctx, sess.ConnectionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, errNoMailbox
		}
		return nil, nil, err
	}
	fetcher, err := s.openConnection(ctx, *conn)
	if err != nil {
		return nil, nil, err
	}
	return conn, fetcher, nil
}

// rejectMailbox answers a failed sessionMailbox and reports whether it did.
func (s *Server) rejectMailbox(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errNoMailbox):
		s.writeError(w, http.StatusUnauthorized, "Not authenticated. Please connect Gmail first.")
	case errors.Is(err, common.ErrMissingConfig):
		s.notConfigured(w, "Gmail")
	default:
		s.fail(w, r, err, "Failed to open mailbox")
	}
	return true
}

// finishScan records a completed scan, or drops the session's mailbox when
// its token stopped working.
func (s *Server) finishScan(ctx context.Context, r *http.Request, conn *model.Connection, res *engine.Result, err error) {
	if err != nil {
		if common.IsAuthError(err) {
			s.sessions.Update(sessionID(r), func(sess *Session) { sess.ConnectionID = "" })
		}
		return
	}
	s.persist(ctx, res.Subscriptions)
	if err := s.deps.Store.UpdateConnectionAfterScan(ctx, conn.ID, len(res.Subscriptions), s.now()); err != nil {
		s.logger.Warn("failed to record scan", "connection", conn.ID, "error", err)
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, fetcher, err := s.sessionMailbox(ctx, r)
	if s.rejectMailbox(w, r, err) {
		return
	}

	res, err := s.deps.Scanner.ScanEmails(ctx, fetcher, nil)
	s.finishScan(ctx, r, conn, res, err)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, newScanResponse(res.Subscriptions))
	case common.IsAuthError(err):
		s.writeError(w, http.StatusUnauthorized, "Session expired. Please reconnect Gmail.")
	default:
		s.logger.Error("Scan error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to scan emails")
	}
}

// handleScanStream runs the scan while streaming its events as
// server-sent events.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, fetcher, err := s.sessionMailbox(ctx, r)
	if s.rejectMailbox(w, r, err) {
		return
	}

	stream := newEventStream(w)
	res, err := s.deps.Scanner.ScanEmails(ctx, fetcher, stream)
	s.finishScan(ctx, r, conn, res, err)
	if stream.err != nil {
		s.logger.Debug("event stream closed early", "error", stream.err)
	}
}

// eventStream writes engine events as text/event-stream frames. It is
// driven from the handler goroutine, so writes need no locking.
type eventStream struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	err     error
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	return &eventStream{w: w, rc: http.NewResponseController(w)}
}

type statusPayload struct {
	Message string       `json:"message"`
	Phase   engine.Phase `json:"phase"`
}

type progressPayload struct {
	Scanned int `json:"scanned"`
	Total   int `json:"total"`
	Found   int `json:"found"`
}

type completePayload struct {
	Subscriptions []model.Subscription `json:"subscriptions"`
	Cancelled     bool                 `json:"cancelled,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// eventPayload shapes an event into its wire form.
func eventPayload(e engine.Event) any {
	switch e.Type {
	case engine.EventStatus:
		return statusPayload{Message: e.Message, Phase: e.Phase}
	case engine.EventProgress:
		return progressPayload{Scanned: e.Scanned, Total: e.Total, Found: e.Found}
	case engine.EventComplete:
		subs := e.Subscriptions
		if subs == nil {
			subs = []model.Subscription{}
		}
		return completePayload{Subscriptions: subs, Cancelled: e.Message == "cancelled"}
	default:
		return errorPayload{Message: e.Message}
	}
}

// Observe implements engine.Observer.
func (es *eventStream) Observe(e engine.Event) {
	if es.err != nil {
		return
	}
	if !es.started {
		h := es.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		es.w.WriteHeader(http.StatusOK)
		es.started = true
	}

	data, err := json.Marshal(eventPayload(e))
	if err != nil {
		es.err = err
		return
	}
	if _, err := fmt.Fprintf(es.w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		es.err = err
		return
	}
	if err := es.rc.Flush(); err != nil {
		es.err = err
	}
}
