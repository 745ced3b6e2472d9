package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Cycle is an inferred billing recurrence period.
type Cycle string

// Billing cycles. Irregular recurrences are never represented.
const (
	CycleWeekly    Cycle = "weekly"
	CycleMonthly   Cycle = "monthly"
	CycleQuarterly Cycle = "quarterly"
	CycleYearly    Cycle = "yearly"
)

// ParseCycle converts a string to a Cycle, ignoring case.
func ParseCycle(s string) (Cycle, error) {
	switch c := Cycle(strings.ToLower(strings.TrimSpace(s))); c {
	case CycleWeekly, CycleMonthly, CycleQuarterly, CycleYearly:
		return c, nil
	default:
		return "", fmt.Errorf("unknown billing cycle %q", s)
	}
}

// Source identifies which detection path produced a candidate.
type Source string

// Detection sources.
const (
	SourceEmail       Source = "email"
	SourceTransaction Source = "transaction"
)

// Confidence scale maxima per source. Email confidence is a 0-100 score,
// transaction confidence is already a 0-1 ratio.
const (
	EmailConfidenceMax       = 100.0
	TransactionConfidenceMax = 1.0
)

// DetectionCandidate is an unconfirmed, per-record detection.
type DetectionCandidate struct {
	SeenAt     time.Time
	Price      decimal.NullDecimal
	Name       string
	Currency   string
	Cycle      Cycle
	Category   string
	Source     Source
	SourceRef  string
	Confidence float64 // Native scale of Source
	Suspicious bool
}

// NormalizedConfidence returns the confidence on the canonical 0-1 scale.
func (c *DetectionCandidate) NormalizedConfidence() float64 {
	conf := c.Confidence
	if c.Source == SourceEmail {
		conf /= EmailConfidenceMax
	}
	return clamp01(conf)
}

// Key returns the dedup key of the candidate's name.
func (c *DetectionCandidate) Key() string {
	return DedupKey(c.Name)
}

// ComparePrices orders two optional prices. An absent price ranks below any
// price, and two absent prices are equal. It returns -1, 0 or 1.
func ComparePrices(a, b decimal.NullDecimal) int {
	switch {
	case a.Valid && b.Valid:
		return a.Decimal.Cmp(b.Decimal)
	case a.Valid:
		return 1
	case b.Valid:
		return -1
	default:
		return 0
	}
}

// DedupKey lowercases name and collapses all whitespace runs to a single space.
func DedupKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Subscription is a canonical, deduplicated recurring charge.
type Subscription struct {
	LastSeen   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Price      decimal.NullDecimal
	ID         string
	Name       string
	Currency   string
	Cycle      Cycle
	Category   string
	SourceRefs []string
	Confidence float64 // Always 0-1
	Suspicious bool
}

// Key returns the dedup key of the subscription's name.
func (s *Subscription) Key() string {
	return DedupKey(s.Name)
}

type subscriptionJSON struct {
	LastSeen   *time.Time   `json:"lastSeen,omitempty"`
	Price      *json.Number `json:"price"`
	ID         string       `json:"id,omitempty"`
	Name       string       `json:"name"`
	Currency   string       `json:"currency"`
	Cycle      Cycle        `json:"cycle"`
	Category   string       `json:"category"`
	SourceRefs []string     `json:"sources"`
	Confidence float64      `json:"confidence"`
	Suspicious bool         `json:"suspicious"`
}

// MarshalJSON renders the price as a plain number with two decimals, or null.
func (s Subscription) MarshalJSON() ([]byte, error) {
	out := subscriptionJSON{
		ID:         s.ID,
		Name:       s.Name,
		Currency:   s.Currency,
		Cycle:      s.Cycle,
		Category:   s.Category,
		SourceRefs: s.SourceRefs,
		Confidence: s.Confidence,
		Suspicious: s.Suspicious,
	}
	if out.SourceRefs == nil {
		out.SourceRefs = []string{}
	}
	if s.Price.Valid {
		n := json.Number(s.Price.Decimal.StringFixed(2))
		out.Price = &n
	}
	if !s.LastSeen.IsZero() {
		t := s.LastSeen
		out.LastSeen = &t
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON.
func (s *Subscription) UnmarshalJSON(data []byte) error {
	var in subscriptionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Subscription{
		ID:         in.ID,
		Name:       in.Name,
		Currency:   in.Currency,
		Cycle:      in.Cycle,
		Category:   in.Category,
		SourceRefs: in.SourceRefs,
		Confidence: in.Confidence,
		Suspicious: in.Suspicious,
	}
	if in.Price != nil {
		d, err := decimal.NewFromString(in.Price.String())
		if err != nil {
			return fmt.Errorf("invalid price %q: %w", in.Price.String(), err)
		}
		s.Price = decimal.NewNullDecimal(d)
	}
	if in.LastSeen != nil {
		s.LastSeen = *in.LastSeen
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var (
	weeksPerMonth = decimal.NewFromInt(52).Div(decimal.NewFromInt(12))
	three         = decimal.NewFromInt(3)
	twelve        = decimal.NewFromInt(12)
)

// MonthlyCost converts the price to a per-month amount, rounded to cents.
// It returns false when the price is unknown.
func (s *Subscription) MonthlyCost() (decimal.Decimal, bool) {
	if !s.Price.Valid {
		return decimal.Decimal{}, false
	}
	p := s.Price.Decimal
	switch s.Cycle {
	case CycleWeekly:
		p = p.Mul(weeksPerMonth)
	case CycleQuarterly:
		p = p.Div(three)
	case CycleYearly:
		p = p.Div(twelve)
	}
	return p.Round(2), true
}
