package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// RenderSubscriptions writes subs as an aligned table followed by the
// monthly total per currency.
func RenderSubscriptions(w io.Writer, subs []model.Subscription) error {
	if len(subs) == 0 {
		_, err := fmt.Fprintln(w, InfoStyle.Render("No subscriptions found."))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		TableHeaderStyle.Render("Name"),
		TableHeaderStyle.Render("Price"),
		TableHeaderStyle.Render("Cycle"),
		TableHeaderStyle.Render("Category"),
		TableHeaderStyle.Render("Confidence"),
		TableHeaderStyle.Render("Sources")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		strings.Repeat("─", 20),
		strings.Repeat("─", 10),
		strings.Repeat("─", 9),
		strings.Repeat("─", 14),
		strings.Repeat("─", 10),
		strings.Repeat("─", 7)); err != nil {
		return fmt.Errorf("failed to write separator: %w", err)
	}

	totals := make(map[string]decimal.Decimal)
	for i := range subs {
		sub := &subs[i]
		name := sub.Name
		if sub.Suspicious {
			name = SuspiciousStyle.Render(name + " " + WarningIcon)
		}
		price := SubtleStyle.Render("?")
		if sub.Price.Valid {
			price = FormatPrice(sub.Price.Decimal, sub.Currency)
		}
		if cost, ok := sub.MonthlyCost(); ok {
			totals[sub.Currency] = totals[sub.Currency].Add(cost)
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			name, price, sub.Cycle, sub.Category, FormatConfidence(sub.Confidence), len(sub.SourceRefs)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}

	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	parts := make([]string, 0, len(currencies))
	for _, c := range currencies {
		parts = append(parts, FormatPrice(totals[c], c))
	}
	if len(parts) > 0 {
		if _, err := fmt.Fprintln(w, "\n"+SuccessStyle.Render("Monthly total: "+strings.Join(parts, " + "))); err != nil {
			return err
		}
	}
	return nil
}

// FormatPrice renders an amount with its currency. Symbols prefix the
// amount, ISO codes follow it.
func FormatPrice(amount decimal.Decimal, currency string) string {
	switch {
	case currency == "":
		return amount.StringFixed(2)
	case isCurrencyCode(currency):
		return amount.StringFixed(2) + " " + currency
	default:
		return currency + amount.StringFixed(2)
	}
}

// isCurrencyCode reports whether currency looks like an ISO 4217 code.
func isCurrencyCode(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
