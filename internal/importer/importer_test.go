package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Date,Amount,Currency,Payee,Description,ID
2025-01-03,-9.99,EUR,Netflix,NETFLIX.COM,n1
2025-02-03,-9.99,EUR,Netflix,NETFLIX.COM,n2
2025-02-05,2500.00,EUR,Employer,Salary,s1
not-a-date,-1.00,EUR,Broken,,b1
2025-03-03,-9.99,EUR,Netflix,NETFLIX.COM,n3
`

func TestCSVParser_ParseFile(t *testing.T) {
	txns, err := NewCSVParser().ParseFile(context.Background(), strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, txns, 4)

	assert.Equal(t, "n1", txns[0].ID)
	assert.Equal(t, "Netflix", txns[0].CounterpartyName)
	assert.Equal(t, "NETFLIX.COM", txns[0].CounterpartyMemo)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("-9.99")))
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), txns[0].BookingDate)
	assert.False(t, txns[2].IsDebit())
}

func TestCSVParser_EuropeanFormat(t *testing.T) {
	content := "\ufeffBuchungstag;Betrag;Creditor;Reference\n" +
		"03.01.2025;-1.234,56;Adobe;Creative Cloud\n"

	// Buchungstag is not a known alias
	_, err := NewCSVParser().ParseFile(context.Background(), strings.NewReader(content))
	require.ErrorIs(t, err, ErrMissingColumn)

	content = strings.Replace(content, "Buchungstag", "Booking Date", 1)
	txns, err := NewCSVParser(WithDefaultCurrency("€")).ParseFile(context.Background(), strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("-1234.56")))
	assert.Equal(t, "€", txns[0].Currency)
	assert.Equal(t, "Adobe", txns[0].CounterpartyName)
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), txns[0].BookingDate)
}

func TestParseSignedAmount(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"-12.99", "-12.99"},
		{"-12,99", "-12.99"},
		{"(12.99)", "-12.99"},
		{"+4.50", "4.5"},
		{"1.234,56", "1234.56"},
		{"15", "15"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseSignedAmount(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, err := parseSignedAmount("abc")
	assert.Error(t, err)
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ';', detectDelimiter("a;b;c\n1;2;3"))
	assert.Equal(t, ',', detectDelimiter("a,b,c"))
	assert.Equal(t, '\t', detectDelimiter("a\tb\tc"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{".csv", ".ofx", ".qfx"}, r.Formats())

	_, err := r.ParserFor("statement.QFX")
	require.NoError(t, err)

	_, err = r.ParserFor("statement.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported ledger format")
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0600))

	fetcher := NewFileFetcher(NewRegistry(), path)
	txns, err := fetcher.GetTransactions(context.Background(),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "n2", txns[0].ID)
	assert.Equal(t, "s1", txns[1].ID)

	_, err = NewFileFetcher(NewRegistry(), filepath.Join(dir, "missing.csv")).
		GetTransactions(context.Background(), time.Time{}, time.Now())
	assert.Error(t, err)
}
