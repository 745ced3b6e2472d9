package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

func priced(name, price, ref string, conf float64) model.DetectionCandidate {
	return model.DetectionCandidate{
		Name:       name,
		Price:      decimal.NewNullDecimal(decimal.RequireFromString(price)),
		Currency:   "€",
		Cycle:      model.CycleMonthly,
		Category:   "Other",
		Confidence: conf,
		Source:     model.SourceEmail,
		SourceRef:  ref,
	}
}

func TestReduce_OrderIndependent(t *testing.T) {
	a := priced("Netflix", "9.00", "m1", 70)
	b := priced("netflix ", "12.00", "m2", 90)
	c := priced("Spotify", "10.99", "m3", 60)

	forward := Reduce([]model.DetectionCandidate{a, b, c})
	backward := Reduce([]model.DetectionCandidate{c, b, a})

	require.Len(t, forward, 2)
	require.Len(t, backward, 2)
	for i := range forward {
		assert.Equal(t, forward[i].Key(), backward[i].Key())
		assert.Equal(t, forward[i].Price.Decimal.String(), backward[i].Price.Decimal.String())
		assert.Equal(t, forward[i].Confidence, backward[i].Confidence)
		assert.ElementsMatch(t, forward[i].SourceRefs, backward[i].SourceRefs)
	}

	assert.Equal(t, "12", forward[0].Price.Decimal.String())
	assert.Equal(t, "netflix ", forward[0].Name)
}

func TestReducer_Merge(t *testing.T) {
	tests := []struct {
		name          string
		cands         []model.DetectionCandidate
		wantPrice     string // "" means absent
		wantRefs      []string
		wantConf      float64
		wantSubsCount int
	}{
		{
			name:          "higher price replaces and keeps sources",
			cands:         []model.DetectionCandidate{priced("Netflix", "9.99", "m1", 100), priced("NETFLIX", "12.99", "m2", 40)},
			wantPrice:     "12.99",
			wantRefs:      []string{"m1", "m2"},
			wantConf:      0.4,
			wantSubsCount: 1,
		},
		{
			name:          "lower price keeps existing",
			cands:         []model.DetectionCandidate{priced("Netflix", "12.99", "m1", 40), priced("Netflix", "9.99", "m2", 100)},
			wantPrice:     "12.99",
			wantRefs:      []string{"m1", "m2"},
			wantConf:      0.4,
			wantSubsCount: 1,
		},
		{
			name: "priced beats unpriced",
			cands: []model.DetectionCandidate{
				{Name: "Notion", Source: model.SourceEmail, SourceRef: "m1", Confidence: 70},
				priced("Notion", "8.00", "m2", 50),
			},
			wantPrice:     "8",
			wantRefs:      []string{"m1", "m2"},
			wantConf:      0.5,
			wantSubsCount: 1,
		},
		{
			name:          "duplicate refs are kept once",
			cands:         []model.DetectionCandidate{priced("Figma", "15.00", "m1", 90), priced("Figma", "15.00", "m1", 90)},
			wantPrice:     "15",
			wantRefs:      []string{"m1"},
			wantConf:      0.9,
			wantSubsCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(tt.cands)
			require.Len(t, got, tt.wantSubsCount)
			sub := got[0]
			if tt.wantPrice == "" {
				assert.False(t, sub.Price.Valid)
			} else {
				assert.Equal(t, tt.wantPrice, sub.Price.Decimal.String())
			}
			assert.Equal(t, tt.wantRefs, sub.SourceRefs)
			assert.InDelta(t, tt.wantConf, sub.Confidence, 1e-9)
		})
	}
}

func TestReducer_EqualPriceNewerWins(t *testing.T) {
	older := priced("Slack", "7.25", "m1", 90)
	older.SeenAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	older.Cycle = model.CycleMonthly
	newer := priced("Slack", "7.25", "m2", 70)
	newer.SeenAt = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	newer.Cycle = model.CycleYearly

	for _, order := range [][]model.DetectionCandidate{{older, newer}, {newer, older}} {
		got := Reduce(order)
		require.Len(t, got, 1)
		assert.Equal(t, model.CycleYearly, got[0].Cycle)
		assert.True(t, got[0].LastSeen.Equal(newer.SeenAt))
	}
}

func TestReducer_Suspicious(t *testing.T) {
	clean := priced("Acme", "5.00", "m1", 50)
	flagged := priced("Acme", "6.00", "m2", 20)
	flagged.Suspicious = true

	got := Reduce([]model.DetectionCandidate{clean, flagged})
	require.Len(t, got, 1)
	assert.False(t, got[0].Suspicious, "one clean detection clears the flag")

	other := flagged
	other.SourceRef = "m3"
	got = Reduce([]model.DetectionCandidate{flagged, other})
	assert.True(t, got[0].Suspicious)
}

func TestReducer_CrossSourceScale(t *testing.T) {
	email := priced("Spotify", "10.99", "m1", 70)
	txn := priced("Dropbox", "11.99", "t1", 0.95)
	txn.Source = model.SourceTransaction

	got := Reduce([]model.DetectionCandidate{email, txn})
	require.Len(t, got, 2)
	assert.Equal(t, "Dropbox", got[0].Name)
	assert.InDelta(t, 0.95, got[0].Confidence, 1e-9)
	assert.InDelta(t, 0.70, got[1].Confidence, 1e-9)
	for _, s := range got {
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
	}
}

func TestReducer_Incremental(t *testing.T) {
	r := NewReducer()
	assert.Equal(t, 0, r.Len())

	r.Add(priced("A", "1.00", "1", 10))
	r.Add(priced("B", "2.00", "2", 10))
	r.Add(priced("a", "3.00", "3", 10))
	r.Add(model.DetectionCandidate{Name: "   "})
	assert.Equal(t, 2, r.Len())

	res := r.Result()
	require.Len(t, res, 2)
	// Equal confidence falls back to key order.
	assert.Equal(t, "a", res[0].Key())
	assert.Equal(t, "b", res[1].Key())

	res[0].SourceRefs[0] = "mutated"
	assert.Equal(t, "1", r.Result()[0].SourceRefs[0])
}
