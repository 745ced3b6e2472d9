// Package ofx reads OFX/QFX statement files into raw ledger transactions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags at end of line that lost their closing bracket
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
	"SEPA LASTSCHRIFT ",
	"CARTE ",
}

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{logger: slog.Default().With("component", "ofx")}
}

// preprocessOFX fixes common formatting issues in bank exports.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseFile parses an OFX/QFX file. Amounts keep their sign, so debits are negative.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.RawTransaction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.RawTransaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		bankStmts++
		transactions = append(transactions,
			p.convertList(stmt.BankTranList.Transactions, string(stmt.BankAcctFrom.AcctID), stmt.CurDef)...)
	}

	for _, msg := range resp.CreditCard {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		ccStmts++
		transactions = append(transactions,
			p.convertList(stmt.BankTranList.Transactions, string(stmt.CCAcctFrom.AcctID), stmt.CurDef)...)
	}

	p.logger.Info("Parsed OFX file",
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

func (p *Parser) convertList(list []ofxgo.Transaction, accountID string, curDef ofxgo.CurrSymbol) []model.RawTransaction {
	out := make([]model.RawTransaction, 0, len(list))
	for _, ofxTx := range list {
		tx, err := convertTransaction(ofxTx, accountID, curDef)
		if err != nil {
			p.logger.Warn("Skipping OFX transaction", "fitid", ofxTx.FiTID, "error", err)
			continue
		}
		out = append(out, tx)
	}
	return out
}

// convertTransaction converts an OFX transaction to a raw ledger entry.
func convertTransaction(ofxTx ofxgo.Transaction, accountID string, curDef ofxgo.CurrSymbol) (model.RawTransaction, error) {
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.Rat.FloatString(2))
	if err != nil {
		return model.RawTransaction{}, fmt.Errorf("invalid amount: %w", err)
	}

	currency := curDef.String()
	if ofxTx.Currency != nil {
		currency = ofxTx.Currency.CurSym.String()
	}

	return model.RawTransaction{
		ID:               string(ofxTx.FiTID),
		BookingDate:      ofxTx.DtPosted.Time,
		Amount:           amount,
		Currency:         currency,
		CounterpartyName: extractMerchantName(ofxTx),
		CounterpartyMemo: string(ofxTx.Memo),
		AccountID:        accountID,
	}, nil
}

// extractMerchantName tries to get a clean merchant name from OFX data.
func extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	upper := strings.ToUpper(name)
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "MM/DD " date stamps
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

// isGenericDescription checks if a transaction name is too generic.
func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE", "":
		return true
	}
	return false
}
