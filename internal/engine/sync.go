package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// Source is one place subscriptions can be detected from.
type Source struct {
	Scan func(ctx context.Context, obs Observer) (*Result, error)
	Name string
}

// EmailSource scans a mailbox.
func (s *Scanner) EmailSource(name string, fetcher service.EmailFetcher) Source {
	return Source{
		Name: name,
		Scan: func(ctx context.Context, obs Observer) (*Result, error) {
			return s.ScanEmails(ctx, fetcher, obs)
		},
	}
}

// TransactionSource scans a bank ledger over window.
func (s *Scanner) TransactionSource(name string, fetcher service.TransactionFetcher, window service.DateRange) Source {
	return Source{
		Name: name,
		Scan: func(ctx context.Context, obs Observer) (*Result, error) {
			return s.ScanTransactions(ctx, fetcher, window, obs)
		},
	}
}

// ConnectionsSource scans every stored mail connection as a single source.
// report, when set, receives the per-account results.
func (s *Scanner) ConnectionsSource(name string, store ConnectionStore, open FetcherFactory, report func(*ConnectionsResult)) Source {
	return Source{
		Name: name,
		Scan: func(ctx context.Context, obs Observer) (*Result, error) {
			cr, err := s.ScanConnections(ctx, store, open, obs)
			if err != nil {
				return nil, err
			}
			if report != nil {
				report(cr)
			}
			return &Result{
				Subscriptions: cr.Subscriptions,
				Candidates:    cr.Candidates,
				Scanned:       cr.TotalScanned,
				Total:         cr.TotalScanned,
			}, nil
		},
	}
}

// SourceResult reports how one source fared during a sync.
type SourceResult struct {
	Name    string `json:"source"`
	Error   string `json:"error,omitempty"`
	Count   int    `json:"count"`
	Success bool   `json:"success"`
}

// SyncResult is the merged outcome of scanning several sources.
type SyncResult struct {
	Sources       []SourceResult       `json:"sources"`
	Subscriptions []model.Subscription `json:"subscriptions"`
	TotalFound    int                  `json:"totalFound"`
}

// Sync scans every source in order and merges all candidates. A failing
// source is reported in its SourceResult and does not stop the others.
func (s *Scanner) Sync(ctx context.Context, sources []Source, obs Observer) *SyncResult {
	if obs == nil {
		obs = Discard
	}
	reducer := NewReducer()
	out := &SyncResult{Sources: make([]SourceResult, 0, len(sources))}

	for _, src := range sources {
		if ctx.Err() != nil {
			out.Sources = append(out.Sources, SourceResult{Name: src.Name, Error: ctx.Err().Error()})
			continue
		}

		obs.Observe(status(PhaseSearch, "Syncing "+src.Name))
		res, err := src.Scan(ctx, forwardProgress(obs))
		sr := SourceResult{Name: src.Name, Success: err == nil}
		if err != nil {
			sr.Error = err.Error()
			res = partialResult(err)
			s.logger.Warn("source failed", "source", src.Name, "error", err)
		}
		if res != nil {
			sr.Count = len(res.Subscriptions)
			reducer.AddAll(res.Candidates)
		}
		out.Sources = append(out.Sources, sr)
	}

	out.Subscriptions = reducer.Result()
	out.TotalFound = len(out.Subscriptions)
	obs.Observe(Event{Type: EventComplete, Subscriptions: out.Subscriptions, Found: out.TotalFound})
	return out
}

// ConnectionStore is the slice of storage a multi-account scan needs.
type ConnectionStore interface {
	GetConnections(ctx context.Context) ([]model.Connection, error)
	UpdateConnectionAfterScan(ctx context.Context, id string, found int, scannedAt time.Time) error
}

// FetcherFactory opens a mailbox for a stored connection.
type FetcherFactory func(ctx context.Context, conn model.Connection) (service.EmailFetcher, error)

// ConnectionResult reports one connected account's scan.
type ConnectionResult struct {
	ConnectionID string `json:"connectionId"`
	Email        string `json:"email"`
	Error        string `json:"error,omitempty"`
	Count        int    `json:"count"`
	Success      bool   `json:"success"`
}

// ConnectionsResult is the merged outcome of scanning every connected account.
type ConnectionsResult struct {
	Emails        []ConnectionResult         `json:"emails"`
	Subscriptions []model.Subscription       `json:"subscriptions"`
	Candidates    []model.DetectionCandidate `json:"-"`
	TotalFound    int                        `json:"totalFound"`
	TotalScanned  int                        `json:"totalScanned"`
}

// ScanConnections scans every stored connection, records each account's
// scan time and count, and merges the detections across accounts. Source
// references are qualified with the account address.
func (s *Scanner) ScanConnections(ctx context.Context, store ConnectionStore, open FetcherFactory, obs Observer) (*ConnectionsResult, error) {
	if obs == nil {
		obs = Discard
	}
	conns, err := store.GetConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	reducer := NewReducer()
	out := &ConnectionsResult{
		Emails:       make([]ConnectionResult, 0, len(conns)),
		TotalScanned: len(conns),
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			break
		}
		cr := ConnectionResult{ConnectionID: conn.ID, Email: conn.Email}

		res, err := s.scanConnection(ctx, conn, open, obs)
		if err != nil {
			cr.Error = err.Error()
			s.logger.Warn("connection scan failed", "connection", conn.ID, "error", err)
		} else {
			cr.Success = true
			cr.Count = len(res.Subscriptions)
			if err := store.UpdateConnectionAfterScan(ctx, conn.ID, cr.Count, s.now()); err != nil {
				s.logger.Warn("failed to record scan", "connection", conn.ID, "error", err)
			}
		}
		if res != nil {
			for _, cand := range res.Candidates {
				cand.SourceRef = conn.Email + "/" + cand.SourceRef
				out.Candidates = append(out.Candidates, cand)
				reducer.Add(cand)
			}
		}
		out.Emails = append(out.Emails, cr)
	}

	out.Subscriptions = reducer.Result()
	out.TotalFound = len(out.Subscriptions)
	obs.Observe(Event{Type: EventComplete, Subscriptions: out.Subscriptions, Found: out.TotalFound})
	return out, nil
}

func (s *Scanner) scanConnection(ctx context.Context, conn model.Connection, open FetcherFactory, obs Observer) (*Result, error) {
	fetcher, err := open(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox %s: %w", conn.Email, err)
	}
	obs.Observe(status(PhaseSearch, "Scanning "+conn.Email))
	res, err := s.ScanEmails(ctx, fetcher, forwardProgress(obs))
	if err != nil {
		return partialResult(err), err
	}
	return res, nil
}

// forwardProgress passes status and progress through but holds back the
// per-source completion so the caller can emit one merged result.
func forwardProgress(obs Observer) Observer {
	return ObserverFunc(func(e Event) {
		if e.Type == EventComplete {
			return
		}
		obs.Observe(e)
	})
}

func partialResult(err error) *Result {
	var batchErr *BatchError
	if errors.As(err, &batchErr) {
		return batchErr.Result
	}
	return nil
}
