package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases", in: "Netflix", want: "netflix"},
		{name: "collapses inner whitespace", in: "Amazon   Prime\tVideo", want: "amazon prime video"},
		{name: "trims", in: "  Spotify ", want: "spotify"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupKey(tt.in))
		})
	}
}

func TestComparePrices(t *testing.T) {
	p := func(s string) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.RequireFromString(s)) }
	tests := []struct {
		name string
		a, b decimal.NullDecimal
		want int
	}{
		{name: "higher", a: p("15.49"), b: p("12.99"), want: 1},
		{name: "lower", a: p("9.99"), b: p("12.99"), want: -1},
		{name: "equal with different scale", a: p("12.9"), b: p("12.90"), want: 0},
		{name: "priced beats absent", a: p("0.5"), b: decimal.NullDecimal{}, want: 1},
		{name: "absent loses", a: decimal.NullDecimal{}, b: p("0.5"), want: -1},
		{name: "both absent", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComparePrices(tt.a, tt.b))
		})
	}
}

func TestParseCycle(t *testing.T) {
	c, err := ParseCycle(" Yearly ")
	require.NoError(t, err)
	assert.Equal(t, CycleYearly, c)

	_, err = ParseCycle("fortnightly")
	assert.Error(t, err)
}

func TestDetectionCandidate_NormalizedConfidence(t *testing.T) {
	tests := []struct {
		name string
		c    DetectionCandidate
		want float64
	}{
		{name: "email score is divided", c: DetectionCandidate{Source: SourceEmail, Confidence: 70}, want: 0.7},
		{name: "transaction ratio is kept", c: DetectionCandidate{Source: SourceTransaction, Confidence: 0.95}, want: 0.95},
		{name: "clamped above", c: DetectionCandidate{Source: SourceEmail, Confidence: 140}, want: 1},
		{name: "clamped below", c: DetectionCandidate{Source: SourceTransaction, Confidence: -0.2}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.c.NormalizedConfidence(), 1e-9)
		})
	}
}

func TestSubscription_JSON(t *testing.T) {
	sub := Subscription{
		Name:       "Netflix",
		Price:      decimal.NewNullDecimal(decimal.RequireFromString("12.5")),
		Currency:   "€",
		Cycle:      CycleMonthly,
		Category:   "Entertainment",
		Confidence: 0.9,
		SourceRefs: []string{"m1", "m2"},
		LastSeen:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(sub)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"price":12.50`)
	assert.Contains(t, string(data), `"sources":["m1","m2"]`)

	var back Subscription
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Price.Valid)
	assert.Equal(t, "12.5", back.Price.Decimal.String())
	assert.Equal(t, sub.SourceRefs, back.SourceRefs)
	assert.True(t, sub.LastSeen.Equal(back.LastSeen))

	data, err = json.Marshal(Subscription{Name: "Unpriced"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"price":null`)
	assert.Contains(t, string(data), `"sources":[]`)
}

func TestRawTransaction_Ref(t *testing.T) {
	txn := RawTransaction{
		BookingDate:      time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
		Amount:           decimal.RequireFromString("-9.99"),
		CounterpartyName: "Spotify",
	}
	assert.True(t, txn.IsDebit())
	assert.Len(t, txn.Ref(), 64)
	assert.Equal(t, txn.GenerateHash(), txn.Ref())

	txn.ID = "tx-1"
	assert.Equal(t, "tx-1", txn.Ref())
}

func TestRawEmail_Header(t *testing.T) {
	e := RawEmail{Headers: []Header{{Name: "From", Value: "a@b.com"}, {Name: "Subject", Value: "Hi"}}}
	assert.Equal(t, "a@b.com", e.Header("from"))
	assert.Equal(t, "Hi", e.Header("SUBJECT"))
	assert.Empty(t, e.Header("Date"))
}

func TestSubscription_MonthlyCost(t *testing.T) {
	tests := []struct {
		price string
		want  string
		cycle Cycle
	}{
		{price: "9.99", cycle: CycleMonthly, want: "9.99"},
		{price: "4.99", cycle: CycleWeekly, want: "21.62"},
		{price: "30.00", cycle: CycleQuarterly, want: "10"},
		{price: "119.88", cycle: CycleYearly, want: "9.99"},
	}
	for _, tt := range tests {
		t.Run(string(tt.cycle), func(t *testing.T) {
			sub := Subscription{Price: decimal.NewNullDecimal(decimal.RequireFromString(tt.price)), Cycle: tt.cycle}
			got, ok := sub.MonthlyCost()
			require.True(t, ok)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, ok := (&Subscription{Cycle: CycleMonthly}).MonthlyCost()
	assert.False(t, ok)
}
