package recurring

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func txn(id, name, amount string, dayOffset int) model.RawTransaction {
	return model.RawTransaction{
		ID:               id,
		CounterpartyName: name,
		Amount:           decimal.RequireFromString(amount),
		Currency:         "EUR",
		BookingDate:      start.AddDate(0, 0, dayOffset),
	}
}

func TestGrouper_MonthlyCharge(t *testing.T) {
	got := New().Group([]model.RawTransaction{
		txn("t1", "Spotify", "-9.99", 0),
		txn("t2", "Spotify", "-9.99", 30),
		txn("t3", "Spotify", "-10.49", 61),
	})

	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "Spotify", c.Name)
	assert.Equal(t, model.CycleMonthly, c.Cycle)
	assert.GreaterOrEqual(t, c.Confidence, 0.9)
	assert.LessOrEqual(t, c.Confidence, 1.0)
	assert.Equal(t, model.SourceTransaction, c.Source)
	assert.Equal(t, "Other", c.Category)
	assert.Equal(t, "EUR", c.Currency)
	assert.Equal(t, "t3", c.SourceRef)
	assert.True(t, c.SeenAt.Equal(start.AddDate(0, 0, 61)))
	require.True(t, c.Price.Valid)
	assert.Equal(t, "10.16", c.Price.Decimal.StringFixed(2))
}

func TestGrouper_IrregularAmounts(t *testing.T) {
	got := New().Group([]model.RawTransaction{
		txn("t1", "Gym", "-9.99", 0),
		txn("t2", "Gym", "-40.00", 30),
	})
	assert.Empty(t, got)
}

func TestGrouper_Cycles(t *testing.T) {
	tests := []struct {
		name      string
		spacing   int
		count     int
		wantCycle model.Cycle
		wantNone  bool
	}{
		{name: "weekly", spacing: 7, count: 4, wantCycle: model.CycleWeekly},
		{name: "monthly", spacing: 30, count: 3, wantCycle: model.CycleMonthly},
		{name: "quarterly", spacing: 91, count: 3, wantCycle: model.CycleQuarterly},
		{name: "yearly", spacing: 365, count: 2, wantCycle: model.CycleYearly},
		{name: "between bands", spacing: 45, count: 3, wantNone: true},
		{name: "between monthly and quarterly", spacing: 60, count: 3, wantNone: true},
		{name: "monthly upper edge", spacing: 32, count: 3, wantNone: true},
		{name: "quarterly lower edge", spacing: 80, count: 3, wantNone: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var txns []model.RawTransaction
			for i := 0; i < tt.count; i++ {
				txns = append(txns, txn("", "Service", "-5.00", i*tt.spacing))
			}
			got := New().Group(txns)
			if tt.wantNone {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantCycle, got[0].Cycle)
			assert.InDelta(t, 1.0, got[0].Confidence, 1e-9)
		})
	}
}

func TestGrouper_Filtering(t *testing.T) {
	tests := []struct {
		name     string
		txns     []model.RawTransaction
		wantName string
		wantNone bool
	}{
		{
			name: "credits are ignored",
			txns: []model.RawTransaction{
				txn("t1", "Employer", "2500.00", 0),
				txn("t2", "Employer", "2500.00", 30),
			},
			wantNone: true,
		},
		{
			name:     "single transaction",
			txns:     []model.RawTransaction{txn("t1", "Netflix", "-12.99", 0)},
			wantNone: true,
		},
		{
			name: "memo fallback",
			txns: []model.RawTransaction{
				{Amount: decimal.RequireFromString("-4.99"), CounterpartyMemo: "SPOTIFY AB", BookingDate: start},
				{Amount: decimal.RequireFromString("-4.99"), CounterpartyMemo: "SPOTIFY AB", BookingDate: start.AddDate(0, 1, 0)},
			},
			wantName: "SPOTIFY AB",
		},
		{
			name: "unknown fallback",
			txns: []model.RawTransaction{
				{Amount: decimal.RequireFromString("-4.99"), BookingDate: start},
				{Amount: decimal.RequireFromString("-4.99"), BookingDate: start.AddDate(0, 1, 0)},
			},
			wantName: "Unknown",
		},
		{
			name: "names are normalized for grouping",
			txns: []model.RawTransaction{
				txn("t1", "Netflix", "-12.99", 0),
				txn("t2", "  NETFLIX ", "-12.99", 31),
			},
			wantName: "Netflix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New().Group(tt.txns)
			if tt.wantNone {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantName, got[0].Name)
			assert.NotEmpty(t, got[0].SourceRef)
		})
	}
}

func TestGrouper_SortedByConfidence(t *testing.T) {
	got := New().Group([]model.RawTransaction{
		txn("a1", "Wobbly", "-10.00", 0),
		txn("a2", "Wobbly", "-11.00", 30),
		txn("b1", "Steady", "-5.00", 0),
		txn("b2", "Steady", "-5.00", 30),
	})

	require.Len(t, got, 2)
	assert.Equal(t, "Steady", got[0].Name)
	assert.Equal(t, "Wobbly", got[1].Name)
	assert.Greater(t, got[0].Confidence, got[1].Confidence)
}

func TestGrouper_UnsortedInput(t *testing.T) {
	got := New().Group([]model.RawTransaction{
		txn("t3", "Notion", "-8.00", 60),
		txn("t1", "Notion", "-8.00", 0),
		txn("t2", "Notion", "-8.00", 30),
	})

	require.Len(t, got, 1)
	assert.Equal(t, model.CycleMonthly, got[0].Cycle)
	assert.Equal(t, "t3", got[0].SourceRef)
}

func TestCycleForInterval(t *testing.T) {
	tests := []struct {
		days   float64
		want   model.Cycle
		wantOK bool
	}{
		{0, model.CycleWeekly, true},
		{9.9, model.CycleWeekly, true},
		{10, "", false},
		{25, "", false},
		{25.1, model.CycleMonthly, true},
		{31.9, model.CycleMonthly, true},
		{32, "", false},
		{80, "", false},
		{80.1, model.CycleQuarterly, true},
		{99.9, model.CycleQuarterly, true},
		{100, "", false},
		{350, "", false},
		{351, model.CycleYearly, true},
	}

	for _, tt := range tests {
		got, ok := CycleForInterval(tt.days)
		assert.Equal(t, tt.wantOK, ok, "days=%v", tt.days)
		assert.Equal(t, tt.want, got, "days=%v", tt.days)
	}
}
