package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/subscription-copilot/internal/classification"
	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/recurring"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// Result is the outcome of one scan.
type Result struct {
	Subscriptions []model.Subscription
	Candidates    []model.DetectionCandidate
	Scanned       int
	Total         int
	Rejected      int
	Failed        int
	Cancelled     bool
}

// Scanner runs the email and transaction detection paths over fetched batches.
type Scanner struct {
	emails *classification.EmailClassifier
	ledger *recurring.Grouper
	logger *slog.Logger
	now    func() time.Time
}

// NewScanner creates a scanner over a classifier and a grouper.
func NewScanner(emails *classification.EmailClassifier, ledger *recurring.Grouper) *Scanner {
	return &Scanner{
		emails: emails,
		ledger: ledger,
		logger: slog.Default().With("component", "scanner"),
		now:    time.Now,
	}
}

// ScanEmails searches the mailbox, classifies every message and returns the
// merged subscriptions. Per-message failures are skipped. A search failure or
// an invalidated session aborts with a *BatchError carrying the partial
// result. Cancellation stops fetching and returns what was classified so far.
func (s *Scanner) ScanEmails(ctx context.Context, fetcher service.EmailFetcher, obs Observer) (*Result, error) {
	if obs == nil {
		obs = Discard
	}
	res := &Result{}
	reducer := NewReducer()

	obs.Observe(status(PhaseSearch, "Searching mailbox for receipts"))
	ids, err := fetcher.SearchMessages(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancel(res, reducer, obs), nil
		}
		return nil, s.abort(res, reducer, obs, fmt.Errorf("failed to search messages: %w", err))
	}

	res.Total = len(ids)
	obs.Observe(status(PhaseScan, fmt.Sprintf("Found %d candidate emails", len(ids))))
	obs.Observe(progress(0, res.Total, 0))

	for _, id := range ids {
		if ctx.Err() != nil {
			return s.cancel(res, reducer, obs), nil
		}

		raw, err := fetcher.GetMessage(ctx, id)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return s.cancel(res, reducer, obs), nil
		case common.IsAuthError(err) || errors.Is(err, common.ErrMaxRetries):
			return nil, s.abort(res, reducer, obs, fmt.Errorf("failed to fetch message %s: %w", id, err))
		default:
			s.logger.Warn("skipping message", "id", id, "error", err)
			res.Failed++
		}

		if raw != nil {
			cand, err := s.classifyEmail(raw)
			switch {
			case err != nil:
				s.logger.Warn("skipping message", "id", id, "error", err)
				res.Failed++
			case cand == nil:
				res.Rejected++
			default:
				res.Candidates = append(res.Candidates, *cand)
				reducer.Add(*cand)
			}
		}

		res.Scanned++
		obs.Observe(progress(res.Scanned, res.Total, reducer.Len()))
	}

	res.Subscriptions = reducer.Result()
	obs.Observe(Event{Type: EventComplete, Subscriptions: res.Subscriptions, Found: len(res.Subscriptions)})
	s.logger.Info("email scan complete",
		"scanned", res.Scanned,
		"found", len(res.Subscriptions),
		"rejected", res.Rejected,
		"failed", res.Failed)
	return res, nil
}

// classifyEmail confines malformed payloads, including panics, to one record.
func (s *Scanner) classifyEmail(raw *model.RawEmail) (cand *model.DetectionCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RecordError{Ref: raw.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	cand, reason, err := s.emails.ClassifyEmail(raw)
	if err != nil {
		return nil, &RecordError{Ref: raw.ID, Err: err}
	}
	if cand == nil {
		s.logger.Debug("email rejected", "id", raw.ID, "reason", string(reason))
	}
	return cand, nil
}

// ScanTransactions fetches a date range of transactions and groups them.
func (s *Scanner) ScanTransactions(ctx context.Context, fetcher service.TransactionFetcher, window service.DateRange, obs Observer) (*Result, error) {
	if obs == nil {
		obs = Discard
	}
	res := &Result{}

	obs.Observe(status(PhaseSearch, "Fetching bank transactions"))
	txns, err := fetcher.GetTransactions(ctx, window.Start, window.End)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancel(res, NewReducer(), obs), nil
		}
		return nil, s.abort(res, NewReducer(), obs, fmt.Errorf("failed to fetch transactions: %w", err))
	}

	return s.ScanLedger(txns, obs), nil
}

// ScanLedger groups already-loaded transactions, such as an imported file.
func (s *Scanner) ScanLedger(txns []model.RawTransaction, obs Observer) *Result {
	if obs == nil {
		obs = Discard
	}
	res := &Result{Total: len(txns)}

	obs.Observe(status(PhaseScan, fmt.Sprintf("Analyzing %d transactions", len(txns))))
	res.Candidates = s.ledger.Group(txns)
	res.Scanned = len(txns)
	res.Subscriptions = Reduce(res.Candidates)

	obs.Observe(progress(res.Scanned, res.Total, len(res.Subscriptions)))
	obs.Observe(Event{Type: EventComplete, Subscriptions: res.Subscriptions, Found: len(res.Subscriptions)})
	s.logger.Info("ledger scan complete", "transactions", len(txns), "found", len(res.Subscriptions))
	return res
}

func (s *Scanner) cancel(res *Result, reducer *Reducer, obs Observer) *Result {
	res.Cancelled = true
	res.Subscriptions = reducer.Result()
	s.logger.Info("scan cancelled", "scanned", res.Scanned, "found", len(res.Subscriptions))
	obs.Observe(Event{Type: EventComplete, Message: "cancelled", Subscriptions: res.Subscriptions, Found: len(res.Subscriptions)})
	return res
}

func (s *Scanner) abort(res *Result, reducer *Reducer, obs Observer, err error) error {
	res.Subscriptions = reducer.Result()
	s.logger.Error("scan aborted", "scanned", res.Scanned, "error", err)
	obs.Observe(Event{Type: EventError, Message: errorMessage(err)})
	return &BatchError{Err: err, Result: res}
}

// errorMessage is the text shown to a user for a terminal scan error.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrSessionExpired):
		return "Session expired. Please reconnect."
	case errors.Is(err, common.ErrNotAuthenticated):
		return "Not authenticated. Please connect first."
	default:
		return "Scan failed: " + err.Error()
	}
}
