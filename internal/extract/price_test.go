package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanPrices(t *testing.T) {
	type want struct {
		value  string
		symbol string
	}

	tests := []struct {
		name string
		text string
		want []want
	}{
		{
			name: "dollar before with usd after",
			text: "Thank you, charged $12.99 USD",
			want: []want{{"12.99", "$"}, {"12.99", "$"}},
		},
		{
			name: "euro after with comma decimal",
			text: "Montant: 9,99 €",
			want: []want{{"9.99", "€"}},
		},
		{
			name: "euro code before",
			text: "Total EUR 17.99",
			want: []want{{"17.99", "€"}},
		},
		{
			name: "pound before",
			text: "You paid £4.99 today",
			want: []want{{"4.99", "£"}},
		},
		{
			name: "gbp after",
			text: "4.99 GBP",
			want: []want{{"4.99", "£"}},
		},
		{
			name: "order of appearance across currencies",
			text: "was £8.00 now €7,50 or $9.00",
			want: []want{{"8", "£"}, {"7.5", "€"}, {"9", "$"}},
		},
		{
			name: "duplicates kept",
			text: "€5.00 then €5.00",
			want: []want{{"5", "€"}, {"5", "€"}},
		},
		{
			name: "thousands separators",
			text: "Total €1.299,00 or $1,299.00",
			want: []want{{"1299", "€"}, {"1299", "$"}},
		},
		{
			name: "no decimals is not a price",
			text: "€12 per month",
			want: nil,
		},
		{
			name: "longer number is not truncated",
			text: "ref $12.999",
			want: nil,
		},
		{
			name: "no currency",
			text: "order 12.99 placed",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanPrices(tt.text)
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w.value, got[i].Value.String(), "price %d", i)
				assert.Equal(t, w.symbol, got[i].Symbol, "price %d", i)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12.99", "12.99"},
		{"12,99", "12.99"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"7", "7"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := ParseAmount("abc")
	assert.Error(t, err)
}
