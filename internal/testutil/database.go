// Package testutil provides test utilities shared across packages: an
// in-memory database, mock fetchers and builders for raw records.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/subscription-copilot/internal/model"
	"github.com/Veraticus/subscription-copilot/internal/service"
	"github.com/Veraticus/subscription-copilot/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database, optionally seeded with
// subscriptions and connections. It is closed when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.Seed{
//		Subscriptions: []model.Subscription{{Name: "Netflix", Cycle: model.CycleMonthly}},
//	})
func SetupTestDB(t *testing.T, seed Seed) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	for i := range seed.Subscriptions {
		if err := store.CreateSubscription(ctx, &seed.Subscriptions[i]); err != nil {
			t.Fatalf("failed to seed subscription %q: %v", seed.Subscriptions[i].Name, err)
		}
	}
	for i := range seed.Connections {
		if err := store.AddConnection(ctx, &seed.Connections[i]); err != nil {
			t.Fatalf("failed to seed connection %q: %v", seed.Connections[i].Email, err)
		}
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// Seed is the initial content of a test database.
type Seed struct {
	Subscriptions []model.Subscription
	Connections   []model.Connection
}

// MustSubscriptions returns every stored subscription or fails the test.
func (db *TestDB) MustSubscriptions() []model.Subscription {
	db.t.Helper()
	subs, err := db.Storage.GetSubscriptions(context.Background())
	if err != nil {
		db.t.Fatalf("failed to list subscriptions: %v", err)
	}
	return subs
}
