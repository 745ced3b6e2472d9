package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subscription-copilot/internal/classification"
	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/recurring"
	"github.com/Veraticus/subscription-copilot/internal/service"
	"github.com/Veraticus/subscription-copilot/internal/testutil"
)

func newTestScanner(t *testing.T) *Scanner {
	t.Helper()
	h, err := classification.DefaultHeuristics()
	require.NoError(t, err)
	return NewScanner(classification.NewEmailClassifier(h), recurring.New())
}

type recorder struct {
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.events = append(r.events, e)
}

func (r *recorder) ofType(typ EventType) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func receipts() []*model.RawEmail {
	return []*model.RawEmail{
		testutil.NewEmail("m1").From("Netflix <info@netflix.com>").Subject("Your receipt").Body("Monthly plan €12.99").Build(),
		testutil.NewEmail("m2").From("Spotify <no-reply@spotify.com>").Subject("Receipt").Body("€10.99").Build(),
		testutil.NewEmail("m3").From("Netflix <info@netflix.com>").Subject("Your receipt").Body("Monthly plan €15.99").Build(),
		testutil.NewEmail("m4").From("Friend <pal@example.org>").Subject("Dinner").Body("See you").Build(),
		testutil.NewEmail("m5").From("Figma <billing@figma.com>").Subject("Invoice").Part("text/plain", "Professional $15.00").Build(),
	}
}

func TestScanner_ScanEmails(t *testing.T) {
	s := newTestScanner(t)
	rec := &recorder{}

	res, err := s.ScanEmails(context.Background(), testutil.NewMockEmailFetcher(receipts()...), rec)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Scanned)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 0, res.Failed)
	assert.False(t, res.Cancelled)
	assert.Len(t, res.Candidates, 3)

	require.Len(t, res.Subscriptions, 2)
	names := []string{res.Subscriptions[0].Name, res.Subscriptions[1].Name}
	assert.ElementsMatch(t, []string{"Netflix", "Figma"}, names)
	for _, sub := range res.Subscriptions {
		if sub.Name == "Netflix" {
			assert.Equal(t, "15.99", sub.Price.Decimal.String())
			assert.Equal(t, []string{"m1", "m3"}, sub.SourceRefs)
		}
	}

	statuses := rec.ofType(EventStatus)
	require.Len(t, statuses, 2)
	assert.Equal(t, PhaseSearch, statuses[0].Phase)
	assert.Equal(t, PhaseScan, statuses[1].Phase)

	progress := rec.ofType(EventProgress)
	require.Len(t, progress, 6)
	assert.Equal(t, 0, progress[0].Scanned)
	last := progress[len(progress)-1]
	assert.Equal(t, 5, last.Scanned)
	assert.Equal(t, 5, last.Total)
	assert.Equal(t, 2, last.Found)

	complete := rec.ofType(EventComplete)
	require.Len(t, complete, 1)
	assert.Len(t, complete[0].Subscriptions, 2)
	assert.Equal(t, EventComplete, rec.events[len(rec.events)-1].Type)
}

func TestScanner_PerRecordFailures(t *testing.T) {
	s := newTestScanner(t)
	fetcher := testutil.NewMockEmailFetcher(receipts()...)
	fetcher.SearchMessagesFn = func(context.Context) ([]string, error) {
		return []string{"m1", "missing", "broken", "m5"}, nil
	}
	inner := fetcher.GetMessageFn
	fetcher.GetMessageFn = func(ctx context.Context, id string) (*model.RawEmail, error) {
		if id == "broken" {
			return testutil.NewEmail("broken").From("Netflix <info@netflix.com>").RawBody("@@@").Build(), nil
		}
		return inner(ctx, id)
	}

	res, err := s.ScanEmails(context.Background(), fetcher, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Subscriptions, 2)
}

func TestScanner_BatchFailure(t *testing.T) {
	tests := []struct {
		name        string
		searchErr   error
		getErr      error
		wantPartial int
		wantErr     error
	}{
		{name: "search fails", searchErr: errors.New("gmail down"), wantPartial: 0},
		{name: "session expires mid-scan", getErr: common.ErrSessionExpired, wantPartial: 1, wantErr: common.ErrSessionExpired},
		{name: "retries exhausted mid-scan", getErr: fmt.Errorf("%w after 3 attempts", common.ErrMaxRetries), wantPartial: 1, wantErr: common.ErrMaxRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScanner(t)
			fetcher := testutil.NewMockEmailFetcher(receipts()...)
			if tt.searchErr != nil {
				fetcher.SearchMessagesFn = func(context.Context) ([]string, error) {
					return nil, tt.searchErr
				}
			}
			if tt.getErr != nil {
				inner := fetcher.GetMessageFn
				fetcher.GetMessageFn = func(ctx context.Context, id string) (*model.RawEmail, error) {
					if id == "m3" {
						return nil, tt.getErr
					}
					return inner(ctx, id)
				}
			}

			rec := &recorder{}
			res, err := s.ScanEmails(context.Background(), fetcher, rec)
			require.Error(t, err)
			assert.Nil(t, res)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			var batchErr *BatchError
			require.ErrorAs(t, err, &batchErr)
			require.NotNil(t, batchErr.Result)
			assert.Len(t, batchErr.Result.Subscriptions, tt.wantPartial)

			errorsSeen := rec.ofType(EventError)
			require.Len(t, errorsSeen, 1)
			assert.NotEmpty(t, errorsSeen[0].Message)
			assert.Empty(t, rec.ofType(EventComplete))
		})
	}
}

func TestScanner_Cancellation(t *testing.T) {
	s := newTestScanner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := testutil.NewMockEmailFetcher(receipts()...)
	inner := fetcher.GetMessageFn
	fetcher.GetMessageFn = func(ctx context.Context, id string) (*model.RawEmail, error) {
		e, err := inner(ctx, id)
		if id == "m1" {
			cancel()
		}
		return e, err
	}

	res, err := s.ScanEmails(ctx, fetcher, nil)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Scanned)
	require.Len(t, res.Subscriptions, 1)
	assert.Equal(t, "Netflix", res.Subscriptions[0].Name)
	assert.Equal(t, []string{"m1"}, fetcher.GetMessageCalls)
}

func TestScanner_ScanTransactions(t *testing.T) {
	s := newTestScanner(t)
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	fetcher := &testutil.MockTransactionFetcher{}
	for i := 0; i < 4; i++ {
		fetcher.Transactions = append(fetcher.Transactions, model.RawTransaction{
			ID:               fmt.Sprintf("t%d", i),
			CounterpartyName: "Dropbox",
			Amount:           decimal.RequireFromString("-11.99"),
			Currency:         "EUR",
			BookingDate:      base.AddDate(0, i, 0),
		})
	}

	rec := &recorder{}
	res, err := s.ScanTransactions(context.Background(), fetcher, service.LastYear(base.AddDate(0, 4, 0)), rec)
	require.NoError(t, err)
	require.Len(t, res.Subscriptions, 1)
	assert.Equal(t, "Dropbox", res.Subscriptions[0].Name)
	assert.Equal(t, model.CycleMonthly, res.Subscriptions[0].Cycle)
	assert.Len(t, rec.ofType(EventComplete), 1)

	fetcher.GetTransactionsFn = func(context.Context, time.Time, time.Time) ([]model.RawTransaction, error) {
		return nil, errors.New("bank unavailable")
	}
	_, err = s.ScanTransactions(context.Background(), fetcher, service.LastYear(base), nil)
	var batchErr *BatchError
	assert.ErrorAs(t, err, &batchErr)
}
