// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// EmailFetcher supplies raw emails from a mailbox. Implementations own
// pagination and authentication.
type EmailFetcher interface {
	// SearchMessages returns the IDs of messages that may be receipts.
	SearchMessages(ctx context.Context) ([]string, error)
	GetMessage(ctx context.Context, id string) (*model.RawEmail, error)
}

// TransactionFetcher supplies bank transactions for a date range.
// This interface allows for easy mocking in tests and swapping data sources.
type TransactionFetcher interface {
	GetTransactions(ctx context.Context, startDate, endDate time.Time) ([]model.RawTransaction, error)
}

// SubscriptionWriter exports the canonical subscription list.
type SubscriptionWriter interface {
	Write(ctx context.Context, subs []model.Subscription) error
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Subscription operations
	GetSubscriptions(ctx context.Context) ([]model.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	SaveDetected(ctx context.Context, subs []model.Subscription) error

	// Connection operations
	AddConnection(ctx context.Context, conn *model.Connection) error
	GetConnections(ctx context.Context) ([]model.Connection, error)
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	RemoveConnection(ctx context.Context, id string) error
	UpdateConnectionAfterScan(ctx context.Context, id string, found int, scannedAt time.Time) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DateRange represents a time period with start and end dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DefaultLookback is how far back email and ledger scans reach by default.
const DefaultLookback = 395 * 24 * time.Hour

// LastYear returns the default scan window ending at now.
func LastYear(now time.Time) DateRange {
	return DateRange{Start: now.Add(-DefaultLookback), End: now}
}
