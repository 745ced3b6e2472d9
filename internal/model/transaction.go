package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RawTransaction is a single bank transaction from any ledger source.
// Amount is signed: negative values are debits (money leaving the account).
type RawTransaction struct {
	BookingDate      time.Time
	Amount           decimal.Decimal
	ID               string
	Currency         string
	CounterpartyName string // Empty when the provider supplies none
	CounterpartyMemo string // Free-text remittance information
	AccountID        string
}

// IsDebit reports whether the transaction is an outgoing payment.
func (t *RawTransaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// GenerateHash creates a stable identifier for transactions that arrive without one.
func (t *RawTransaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.BookingDate.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.CounterpartyName,
		t.CounterpartyMemo,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// Ref returns the provider ID, or the content hash when the ID is empty.
func (t *RawTransaction) Ref() string {
	if t.ID != "" {
		return t.ID
	}
	return t.GenerateHash()
}
