package plaid

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// MockClient is a mock implementation of Linker for testing.
type MockClient struct {
	// Functions that can be set by tests to control behavior
	GetTransactionsFn     func(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error)
	CreateLinkTokenFn     func(ctx context.Context, userID string) (string, error)
	ExchangePublicTokenFn func(ctx context.Context, publicToken string) (string, string, error)

	// Call tracking
	GetTransactionsCalls []GetTransactionsCall
	AccessToken          string
	mu                   sync.Mutex
}

// GetTransactionsCall records the parameters of a GetTransactions call.
type GetTransactionsCall struct {
	StartDate   time.Time
	EndDate     time.Time
	AccessToken string
}

// NewMockClient creates a new mock Plaid client.
func NewMockClient() *MockClient {
	return &MockClient{
		GetTransactionsCalls: []GetTransactionsCall{},
	}
}

// GetTransactions implements service.TransactionFetcher.
func (m *MockClient) GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error) {
	m.mu.Lock()
	m.GetTransactionsCalls = append(m.GetTransactionsCalls, GetTransactionsCall{
		StartDate:   startDate,
		EndDate:     endDate,
		AccessToken: m.AccessToken,
	})
	m.mu.Unlock()

	if m.GetTransactionsFn != nil {
		return m.GetTransactionsFn(ctx, startDate, endDate)
	}

	// Default behavior: return empty slice
	return []model.RawTransaction{}, nil
}

// CreateLinkToken implements Linker.
func (m *MockClient) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	if m.CreateLinkTokenFn != nil {
		return m.CreateLinkTokenFn(ctx, userID)
	}
	return "link-sandbox-" + userID, nil
}

// ExchangePublicToken implements Linker.
func (m *MockClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	if m.ExchangePublicTokenFn != nil {
		return m.ExchangePublicTokenFn(ctx, publicToken)
	}
	return "access-sandbox-" + publicToken, "item-" + publicToken, nil
}

// WithAccessToken records the token and returns the same mock so call
// tracking stays in one place.
func (m *MockClient) WithAccessToken(accessToken string) Linker {
	m.mu.Lock()
	m.AccessToken = accessToken
	m.mu.Unlock()
	return m
}

// Reset clears all call tracking.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetTransactionsCalls = []GetTransactionsCall{}
}

var _ Linker = (*MockClient)(nil)
