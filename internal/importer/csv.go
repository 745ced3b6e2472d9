package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/subscription-copilot/internal/extract"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
	"01/02/2006",
	time.RFC3339,
}

// Header aliases, lowercase.
var columnAliases = map[string][]string{
	"date":     {"date", "booking date", "bookingdate", "booked", "posted", "transaction date"},
	"amount":   {"amount", "value", "betrag", "montant"},
	"currency": {"currency", "ccy", "währung", "devise"},
	"name":     {"counterparty", "payee", "merchant", "name", "creditor", "creditorname"},
	"memo":     {"memo", "description", "reference", "remittance", "details"},
	"id":       {"id", "transaction id", "transactionid", "reference id"},
	"account":  {"account", "account id", "iban"},
}

// CSVParser reads delimited bank exports with a header row.
type CSVParser struct {
	logger          *slog.Logger
	defaultCurrency string
	comma           rune
}

// CSVOption configures a CSVParser.
type CSVOption func(*CSVParser)

// WithDelimiter sets the field separator; the default is detected from the header.
func WithDelimiter(r rune) CSVOption {
	return func(p *CSVParser) { p.comma = r }
}

// WithDefaultCurrency sets the currency used when the file has no currency column.
func WithDefaultCurrency(c string) CSVOption {
	return func(p *CSVParser) { p.defaultCurrency = c }
}

// NewCSVParser creates a CSV ledger parser.
func NewCSVParser(opts ...CSVOption) *CSVParser {
	p := &CSVParser{
		logger:          slog.Default().With("component", "csv-importer"),
		defaultCurrency: "EUR",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile parses a CSV export. Rows that fail to parse are skipped and logged.
func (p *CSVParser) ParseFile(ctx context.Context, r io.Reader) ([]model.RawTransaction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	content := strings.TrimPrefix(string(data), "\ufeff")

	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = p.comma
	if reader.Comma == 0 {
		reader.Comma = detectDelimiter(content)
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var out []model.RawTransaction
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		tx, err := p.parseRecord(record, cols)
		if err != nil {
			p.logger.Warn("Skipping CSV row", "line", line, "error", err)
			continue
		}
		out = append(out, tx)
	}

	p.logger.Info("Parsed CSV file", "total_transactions", len(out))
	return out, nil
}

func (p *CSVParser) parseRecord(record []string, cols map[string]int) (model.RawTransaction, error) {
	field := func(key string) string {
		idx, ok := cols[key]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	date, err := parseDate(field("date"))
	if err != nil {
		return model.RawTransaction{}, err
	}

	amount, err := parseSignedAmount(field("amount"))
	if err != nil {
		return model.RawTransaction{}, err
	}

	currency := field("currency")
	if currency == "" {
		currency = p.defaultCurrency
	}

	return model.RawTransaction{
		ID:               field("id"),
		BookingDate:      date,
		Amount:           amount,
		Currency:         currency,
		CounterpartyName: field("name"),
		CounterpartyMemo: field("memo"),
		AccountID:        field("account"),
	}, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for key, aliases := range columnAliases {
			if _, seen := cols[key]; seen {
				continue
			}
			for _, alias := range aliases {
				if h == alias {
					cols[key] = i
					break
				}
			}
		}
	}
	for _, required := range []string{"date", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}
	return cols, nil
}

func detectDelimiter(content string) rune {
	firstLine, _, _ := strings.Cut(content, "\n")
	best, bestCount := ',', 0
	for _, candidate := range []rune{',', ';', '\t'} {
		if n := strings.Count(firstLine, string(candidate)); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseSignedAmount accepts "-12.99", "-12,99", "1.234,56" and "(12.99)".
func parseSignedAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	value, err := extract.ParseAmount(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if negative {
		value = value.Neg()
	}
	return value, nil
}
