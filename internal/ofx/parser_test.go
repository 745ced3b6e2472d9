package ofx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20250315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>EUR
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20250101120000[0:GMT]
<DTEND>20250331120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250115120000[0:GMT]
<TRNAMT>-12.99
<FITID>2025011501
<NAME>POS PURCHASE SPOTIFY
<MEMO>SPOTIFY P1A2B3
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250215120000[0:GMT]
<TRNAMT>-12.99
<FITID>2025021501
<NAME>PAYMENT
<MEMO>SPOTIFY
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20250301120000[0:GMT]
<TRNAMT>2500.00
<FITID>2025030101
<NAME>SALARY
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20250331120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func TestParseFile(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		expectedCount int
		wantErr       bool
	}{
		{name: "bank statement", content: sampleBankOFX, expectedCount: 3},
		{name: "leading whitespace", content: "\n\n  " + sampleBankOFX, expectedCount: 3},
		{name: "not ofx", content: "date,amount\n2025-01-01,1.00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txns, err := NewParser().ParseFile(context.Background(), strings.NewReader(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, txns, tt.expectedCount)
		})
	}
}

func TestParseBankTransactions(t *testing.T) {
	txns, err := NewParser().ParseFile(context.Background(), strings.NewReader(sampleBankOFX))
	require.NoError(t, err)
	require.Len(t, txns, 3)

	first := txns[0]
	assert.Equal(t, "2025011501", first.ID)
	assert.Equal(t, "SPOTIFY", first.CounterpartyName)
	assert.Equal(t, "SPOTIFY P1A2B3", first.CounterpartyMemo)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-12.99")))
	assert.True(t, first.IsDebit())
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, "1234567890", first.AccountID)
	assert.Equal(t, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), first.BookingDate.UTC())

	// Generic NAME falls back to MEMO
	assert.Equal(t, "SPOTIFY", txns[1].CounterpartyName)

	assert.False(t, txns[2].IsDebit())
}

func TestParseFile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewParser().ParseFile(ctx, strings.NewReader(sampleBankOFX))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractMerchantName(t *testing.T) {
	tests := []struct {
		tx       ofxgo.Transaction
		name     string
		expected string
	}{
		{
			name:     "payee wins",
			tx:       ofxgo.Transaction{Name: "ACH DEBIT NFLX", Payee: &ofxgo.Payee{Name: "Netflix"}},
			expected: "Netflix",
		},
		{name: "strips card prefix", tx: ofxgo.Transaction{Name: "CHECK CARD ADOBE"}, expected: "ADOBE"},
		{name: "strips date stamp", tx: ofxgo.Transaction{Name: "03/14 DROPBOX"}, expected: "DROPBOX"},
		{name: "generic name uses memo", tx: ofxgo.Transaction{Name: "DEBIT", Memo: "GITHUB"}, expected: "GITHUB"},
		{name: "plain name", tx: ofxgo.Transaction{Name: "Notion Labs"}, expected: "Notion Labs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractMerchantName(tt.tx))
		})
	}
}

func TestPreprocessOFX(t *testing.T) {
	p := NewParser()
	out := p.preprocessOFX("\n  <SEVERITY>Info</SEVERITY>\n<CODE\n")
	assert.Equal(t, "<SEVERITY>INFO</SEVERITY>\n<CODE>\n", out)
}
