package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)

	require.NoError(t, store.Migrate(context.Background()))

	cleanup := func() {
		_ = store.Close()
	}
	return store, cleanup
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func testSubscription(name string) *model.Subscription {
	return &model.Subscription{
		Name:       name,
		Price:      price("12.99"),
		Currency:   "€",
		Cycle:      model.CycleMonthly,
		Category:   "Entertainment",
		SourceRefs: []string{"m1"},
		Confidence: 0.8,
		LastSeen:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	t.Run("creates nested directory", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "subs.db")
		store, err := NewSQLiteStorage(dbPath)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		assert.FileExists(t, dbPath)
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := NewSQLiteStorage("  ")
		assert.ErrorIs(t, err, ErrEmptyString)
	})

	t.Run("in memory", func(t *testing.T) {
		store, err := NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		require.NoError(t, store.Migrate(context.Background()))
	})
}

func TestMigrate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	ctx := context.Background()
	var version int
	require.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, ExpectedSchemaVersion, version)

	// Running again is a no-op
	require.NoError(t, store.Migrate(ctx))

	for _, table := range []string{"subscriptions", "connections"} {
		var name string
		err := store.db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestMigrate_NilContext(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	//nolint:staticcheck // exercising validation
	err := store.Migrate(nil)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestSubscriptionCRUD(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := testSubscription("Netflix")
	require.NoError(t, store.CreateSubscription(ctx, sub))
	require.NotEmpty(t, sub.ID)
	assert.False(t, sub.CreatedAt.IsZero())

	got, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Netflix", got.Name)
	assert.True(t, got.Price.Valid)
	assert.Equal(t, "12.99", got.Price.Decimal.StringFixed(2))
	assert.Equal(t, model.CycleMonthly, got.Cycle)
	assert.Equal(t, []string{"m1"}, got.SourceRefs)
	assert.True(t, got.LastSeen.Equal(sub.LastSeen))
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)

	got.Price = decimal.NullDecimal{}
	got.Cycle = model.CycleYearly
	require.NoError(t, store.UpdateSubscription(ctx, got))

	updated, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, updated.ID)
	assert.False(t, updated.Price.Valid)
	assert.Equal(t, model.CycleYearly, updated.Cycle)

	require.NoError(t, store.DeleteSubscription(ctx, sub.ID))
	_, err = store.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, store.DeleteSubscription(ctx, sub.ID), common.ErrNotFound)
}

func TestCreateSubscription_Duplicate(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.CreateSubscription(ctx, testSubscription("Spotify")))
	err := store.CreateSubscription(ctx, testSubscription("  SPOTIFY "))
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestUpdateSubscription_NotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	sub := testSubscription("Ghost")
	sub.ID = "missing"
	err := store.UpdateSubscription(context.Background(), sub)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestValidateSubscription(t *testing.T) {
	tests := []struct {
		mutate func(*model.Subscription)
		name   string
	}{
		{name: "empty name", mutate: func(s *model.Subscription) { s.Name = "  " }},
		{name: "zero price", mutate: func(s *model.Subscription) { s.Price = price("0") }},
		{name: "negative price", mutate: func(s *model.Subscription) { s.Price = price("-3.00") }},
		{name: "bad cycle", mutate: func(s *model.Subscription) { s.Cycle = "daily" }},
		{name: "confidence above one", mutate: func(s *model.Subscription) { s.Confidence = 1.5 }},
		{name: "negative confidence", mutate: func(s *model.Subscription) { s.Confidence = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := testSubscription("Netflix")
			tt.mutate(sub)
			assert.ErrorIs(t, validateSubscription(sub), ErrInvalidSubscription)
		})
	}

	assert.ErrorIs(t, validateSubscription(nil), ErrNilParameter)
	assert.NoError(t, validateSubscription(testSubscription("Netflix")))
}

func TestSaveDetected_Upsert(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	first := []model.Subscription{*testSubscription("Netflix"), *testSubscription("Spotify")}
	require.NoError(t, store.SaveDetected(ctx, first))

	subs, err := store.GetSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	ids := map[string]string{}
	for _, s := range subs {
		ids[s.Key()] = s.ID
	}

	rescan := *testSubscription("netflix")
	rescan.Price = price("15.49")
	rescan.SourceRefs = []string{"m1", "m9"}
	rescan.Confidence = 0.95
	require.NoError(t, store.SaveDetected(ctx, []model.Subscription{rescan}))

	subs, err = store.GetSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// Ordered by confidence
	assert.Equal(t, "netflix", subs[0].Name)
	assert.Equal(t, ids["netflix"], subs[0].ID)
	assert.Equal(t, "15.49", subs[0].Price.Decimal.StringFixed(2))
	assert.Equal(t, []string{"m1", "m9"}, subs[0].SourceRefs)
	assert.Equal(t, ids["spotify"], subs[1].ID)
}

func TestSaveDetected_MergesAcrossScans(t *testing.T) {
	later := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	earlier := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		rescan         func(*model.Subscription)
		wantPrice      string
		wantConfidence float64
		wantLastSeen   time.Time
		wantSources    []string
	}{
		{
			name: "lower price keeps stored record",
			rescan: func(s *model.Subscription) {
				s.Price = price("9.99")
				s.Confidence = 0.99
				s.LastSeen = later
				s.SourceRefs = []string{"m2"}
			},
			wantPrice:      "12.99",
			wantConfidence: 0.8,
			wantLastSeen:   later,
			wantSources:    []string{"m1", "m2"},
		},
		{
			name: "missing price keeps stored record",
			rescan: func(s *model.Subscription) {
				s.Price = decimal.NullDecimal{}
				s.Confidence = 0.5
				s.SourceRefs = []string{"m3", "m1"}
			},
			wantPrice:      "12.99",
			wantConfidence: 0.8,
			wantLastSeen:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			wantSources:    []string{"m1", "m3"},
		},
		{
			name: "same price seen later wins",
			rescan: func(s *model.Subscription) {
				s.Confidence = 0.6
				s.LastSeen = later
				s.SourceRefs = []string{"m4"}
			},
			wantPrice:      "12.99",
			wantConfidence: 0.6,
			wantLastSeen:   later,
			wantSources:    []string{"m1", "m4"},
		},
		{
			name: "same price seen earlier loses",
			rescan: func(s *model.Subscription) {
				s.Confidence = 0.6
				s.LastSeen = earlier
				s.SourceRefs = []string{"m5"}
			},
			wantPrice:      "12.99",
			wantConfidence: 0.8,
			wantLastSeen:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			wantSources:    []string{"m1", "m5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup := createTestStorage(t)
			defer cleanup()
			ctx := context.Background()

			require.NoError(t, store.SaveDetected(ctx, []model.Subscription{*testSubscription("Netflix")}))

			rescan := testSubscription("Netflix")
			tt.rescan(rescan)
			require.NoError(t, store.SaveDetected(ctx, []model.Subscription{*rescan}))

			subs, err := store.GetSubscriptions(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			got := subs[0]
			require.True(t, got.Price.Valid)
			assert.Equal(t, tt.wantPrice, got.Price.Decimal.StringFixed(2))
			assert.InDelta(t, tt.wantConfidence, got.Confidence, 1e-9)
			assert.True(t, tt.wantLastSeen.Equal(got.LastSeen), "last seen %v", got.LastSeen)
			assert.Equal(t, tt.wantSources, got.SourceRefs)
		})
	}
}

func TestSaveDetected_KeepsManualSubscription(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	manual := &model.Subscription{
		Name:       "Netflix",
		Price:      price("7.99"),
		Currency:   "$",
		Cycle:      model.CycleMonthly,
		Category:   "Entertainment",
		Confidence: 1,
	}
	require.NoError(t, store.CreateSubscription(ctx, manual))

	detected := testSubscription("netflix")
	detected.Price = price("15.49")
	detected.Suspicious = true
	require.NoError(t, store.SaveDetected(ctx, []model.Subscription{*detected}))

	got, err := store.GetSubscription(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, "Netflix", got.Name)
	assert.Equal(t, "7.99", got.Price.Decimal.StringFixed(2))
	assert.Equal(t, "$", got.Currency)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.False(t, got.Suspicious)
	assert.Equal(t, []string{"m1"}, got.SourceRefs)
}

func TestSaveDetected_SuspiciousOnlyWhenEveryScanWas(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	first := testSubscription("Acme")
	first.Suspicious = true
	require.NoError(t, store.SaveDetected(ctx, []model.Subscription{*first}))

	second := testSubscription("Acme")
	second.Price = price("20.00")
	require.NoError(t, store.SaveDetected(ctx, []model.Subscription{*second}))

	third := testSubscription("Acme")
	third.Suspicious = true
	require.NoError(t, store.SaveDetected(ctx, []model.Subscription{*third}))

	subs, err := store.GetSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.False(t, subs[0].Suspicious)
	assert.Equal(t, "20.00", subs[0].Price.Decimal.StringFixed(2))
}

func TestSaveDetected_RollsBackOnInvalid(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	bad := *testSubscription("Broken")
	bad.Confidence = 42
	err := store.SaveDetected(ctx, []model.Subscription{*testSubscription("Netflix"), bad})
	require.ErrorIs(t, err, ErrInvalidSubscription)

	subs, err := store.GetSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestGetSubscriptions_EmptyIsNotNil(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	subs, err := store.GetSubscriptions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}
