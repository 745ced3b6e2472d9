package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// MockEmailFetcher is a mock mailbox for testing.
type MockEmailFetcher struct {
	// Functions that can be set by tests to control behavior
	SearchMessagesFn func(ctx context.Context) ([]string, error)
	GetMessageFn     func(ctx context.Context, id string) (*model.RawEmail, error)

	// Call tracking
	GetMessageCalls []string
	mu              sync.Mutex
}

// NewMockEmailFetcher serves the given emails by ID, in order.
func NewMockEmailFetcher(emails ...*model.RawEmail) *MockEmailFetcher {
	byID := make(map[string]*model.RawEmail, len(emails))
	ids := make([]string, 0, len(emails))
	for _, e := range emails {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}
	return &MockEmailFetcher{
		SearchMessagesFn: func(context.Context) ([]string, error) {
			return ids, nil
		},
		GetMessageFn: func(_ context.Context, id string) (*model.RawEmail, error) {
			if e, ok := byID[id]; ok {
				return e, nil
			}
			return nil, common.ErrNotFound
		},
	}
}

// SearchMessages implements service.EmailFetcher.
func (m *MockEmailFetcher) SearchMessages(ctx context.Context) ([]string, error) {
	if m.SearchMessagesFn != nil {
		return m.SearchMessagesFn(ctx)
	}
	return []string{}, nil
}

// GetMessage implements service.EmailFetcher.
func (m *MockEmailFetcher) GetMessage(ctx context.Context, id string) (*model.RawEmail, error) {
	m.mu.Lock()
	m.GetMessageCalls = append(m.GetMessageCalls, id)
	m.mu.Unlock()

	if m.GetMessageFn != nil {
		return m.GetMessageFn(ctx, id)
	}
	return nil, common.ErrNotFound
}

// MockTransactionFetcher is a mock bank ledger for testing.
type MockTransactionFetcher struct {
	GetTransactionsFn func(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error)
	Transactions      []model.RawTransaction
}

// GetTransactions implements service.TransactionFetcher.
func (m *MockTransactionFetcher) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error) {
	if m.GetTransactionsFn != nil {
		return m.GetTransactionsFn(ctx, startDate, endDate)
	}
	return m.Transactions, nil
}

// Ensure the mocks implement the fetcher interfaces.
var (
	_ service.EmailFetcher       = (*MockEmailFetcher)(nil)
	_ service.TransactionFetcher = (*MockTransactionFetcher)(nil)
)
