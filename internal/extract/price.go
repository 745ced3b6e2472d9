package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency symbols reported by ScanPrices.
const (
	SymbolEuro   = "€"
	SymbolDollar = "$"
	SymbolPound  = "£"
)

// Price is a currency amount found in text.
type Price struct {
	Value  decimal.Decimal
	Symbol string
	Offset int // Byte offset of the match in the scanned text
}

// amount accepts grouped thousands ("1.299,00", "1,299.00") and plain amounts
// ("12.99", "12,99"). Exactly two decimals are required.
const amount = `(\d{1,3}(?:[.,]\d{3})+[.,]\d{2}|\d+[.,]\d{2})`

type pricePattern struct {
	re     *regexp.Regexp
	symbol string
}

// Ordered: symbol-before-amount first, so "$12.99 USD" reports "$" first.
var pricePatterns = []pricePattern{
	{re: regexp.MustCompile(`€\s*` + amount), symbol: SymbolEuro},
	{re: regexp.MustCompile(amount + `\s*€`), symbol: SymbolEuro},
	{re: regexp.MustCompile(`(?i)\bEUR\s*` + amount), symbol: SymbolEuro},
	{re: regexp.MustCompile(`(?i)` + amount + `\s*EUR\b`), symbol: SymbolEuro},
	{re: regexp.MustCompile(`\$\s*` + amount), symbol: SymbolDollar},
	{re: regexp.MustCompile(`(?i)\bUSD\s*` + amount), symbol: SymbolDollar},
	{re: regexp.MustCompile(`(?i)` + amount + `\s*USD\b`), symbol: SymbolDollar},
	{re: regexp.MustCompile(`£\s*` + amount), symbol: SymbolPound},
	{re: regexp.MustCompile(amount + `\s*£`), symbol: SymbolPound},
	{re: regexp.MustCompile(`(?i)\bGBP\s*` + amount), symbol: SymbolPound},
	{re: regexp.MustCompile(`(?i)` + amount + `\s*GBP\b`), symbol: SymbolPound},
}

// ScanPrices returns every currency amount in text, in order of appearance.
// Amounts matched by more than one notation are reported once per notation.
func ScanPrices(text string) []Price {
	type hit struct {
		price   Price
		pattern int
	}

	var hits []hit
	for i, p := range pricePatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			amountStart, amountEnd := loc[2], loc[3]
			if truncated(text, amountStart, amountEnd) {
				continue
			}
			value, err := ParseAmount(text[amountStart:amountEnd])
			if err != nil {
				continue
			}
			hits = append(hits, hit{
				price:   Price{Value: value, Symbol: p.symbol, Offset: loc[0]},
				pattern: i,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].price.Offset != hits[j].price.Offset {
			return hits[i].price.Offset < hits[j].price.Offset
		}
		return hits[i].pattern < hits[j].pattern
	})

	prices := make([]Price, 0, len(hits))
	for _, h := range hits {
		prices = append(prices, h.price)
	}
	return prices
}

// truncated reports whether the amount is really the middle of a longer number.
func truncated(text string, start, end int) bool {
	if start > 0 && isDigit(text[start-1]) {
		return true
	}
	return end < len(text) && isDigit(text[end])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// ParseAmount parses an amount whose last separator is the decimal point.
// Any earlier separators are thousands groupings and are dropped.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	last := strings.LastIndexAny(s, ".,")
	if last < 0 {
		return decimal.NewFromString(s)
	}
	whole := strings.NewReplacer(".", "", ",", "").Replace(s[:last])
	return decimal.NewFromString(whole + "." + s[last+1:])
}
