package sheets

import (
	"context"
	"sync"

	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
)

// MockWriter is a mock implementation of service.SubscriptionWriter for testing.
type MockWriter struct {
	WriteFunc      func(ctx context.Context, subs []model.Subscription) error
	LastWritten    []model.Subscription
	WriteCallCount int
	mu             sync.Mutex
}

// NewMockWriter creates a new mock writer.
func NewMockWriter() *MockWriter {
	return &MockWriter{}
}

// Write records the call and delegates to WriteFunc when set.
func (m *MockWriter) Write(ctx context.Context, subs []model.Subscription) error {
	m.mu.Lock()
	m.WriteCallCount++
	m.LastWritten = append([]model.Subscription(nil), subs...)
	m.mu.Unlock()

	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, subs)
	}
	return nil
}

var _ service.SubscriptionWriter = (*MockWriter)(nil)
