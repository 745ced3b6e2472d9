// Package classification decides whether an email is evidence of a recurring
// subscription charge.
package classification

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// CategoryRule maps service names matching Regex to Category.
type CategoryRule struct {
	Category string `yaml:"category"`
	Regex    string `yaml:"regex"`
	Priority int    `yaml:"priority"` // Higher priority rules are checked first
}

// Tables is the static heuristic data the classifier runs on. It is plain
// data so a locale or category set can be swapped without touching code.
type Tables struct {
	CanonicalNames    map[string]string `yaml:"canonical_names"`
	ReceiptSubject    string            `yaml:"receipt_subject"`
	YearlyPattern     string            `yaml:"yearly_pattern"`
	DefaultCurrency   string            `yaml:"default_currency"`
	DefaultCategory   string            `yaml:"default_category"`
	UnknownName       string            `yaml:"unknown_name"`
	KnownSenders      []string          `yaml:"known_senders"` // Ordered, first match wins
	Blacklist         []string          `yaml:"blacklist"`
	SuspiciousMarkers []string          `yaml:"suspicious_markers"`
	GenericTerms      []string          `yaml:"generic_terms"`
	Keywords          []string          `yaml:"keywords"`
	BillingKeywords   []string          `yaml:"billing_keywords"`
	Categories        []CategoryRule    `yaml:"categories"`
	PriceCeiling      float64           `yaml:"price_ceiling"`
	PlausibleMin      float64           `yaml:"plausible_min"`
	PlausibleMax      float64           `yaml:"plausible_max"`
}

// Heuristics is the compiled, read-only form of Tables.
type Heuristics struct {
	canonical       map[string]string
	generic         map[string]struct{}
	keywordRe       *regexp.Regexp
	billingRe       *regexp.Regexp
	receiptRe       *regexp.Regexp
	yearlyRe        *regexp.Regexp
	defaultCurrency string
	defaultCategory string
	unknownName     string
	senders         []string
	keywords        []string
	blacklist       []string
	suspicious      []string
	categories      []compiledCategory
	ceiling         decimal.Decimal
	plausibleMin    decimal.Decimal
	plausibleMax    decimal.Decimal
}

type compiledCategory struct {
	re *regexp.Regexp
	CategoryRule
}

// Compile validates the tables and builds the matchers.
func (t Tables) Compile() (*Heuristics, error) {
	if len(t.Keywords) == 0 {
		return nil, errors.New("keyword list is empty")
	}
	if t.PlausibleMin > t.PlausibleMax {
		return nil, fmt.Errorf("plausible price band is inverted: %v > %v", t.PlausibleMin, t.PlausibleMax)
	}
	if t.PriceCeiling <= 0 {
		return nil, fmt.Errorf("price ceiling must be positive, got %v", t.PriceCeiling)
	}

	h := &Heuristics{
		canonical:       make(map[string]string, len(t.CanonicalNames)),
		generic:         make(map[string]struct{}, len(t.GenericTerms)+1),
		defaultCurrency: t.DefaultCurrency,
		defaultCategory: t.DefaultCategory,
		unknownName:     t.UnknownName,
		senders:         lowerAll(t.KnownSenders),
		keywords:        lowerAll(t.Keywords),
		blacklist:       lowerAll(t.Blacklist),
		suspicious:      lowerAll(t.SuspiciousMarkers),
		ceiling:         decimal.NewFromFloat(t.PriceCeiling),
		plausibleMin:    decimal.NewFromFloat(t.PlausibleMin),
		plausibleMax:    decimal.NewFromFloat(t.PlausibleMax),
	}

	for k, v := range t.CanonicalNames {
		h.canonical[strings.ToLower(k)] = v
	}
	for _, g := range t.GenericTerms {
		h.generic[strings.ToLower(g)] = struct{}{}
	}
	// The sentinel itself must never survive as a service name.
	h.generic[strings.ToLower(t.UnknownName)] = struct{}{}

	var err error
	if h.keywordRe, err = wordStartRegex(t.Keywords); err != nil {
		return nil, fmt.Errorf("failed to compile keywords: %w", err)
	}
	if h.billingRe, err = wordStartRegex(t.BillingKeywords); err != nil {
		return nil, fmt.Errorf("failed to compile billing keywords: %w", err)
	}
	if h.receiptRe, err = compileInsensitive(t.ReceiptSubject); err != nil {
		return nil, fmt.Errorf("failed to compile receipt subject pattern: %w", err)
	}
	if h.yearlyRe, err = compileInsensitive(t.YearlyPattern); err != nil {
		return nil, fmt.Errorf("failed to compile yearly pattern: %w", err)
	}

	for _, rule := range t.Categories {
		re, err := compileInsensitive(rule.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile category %s: %w", rule.Category, err)
		}
		h.categories = append(h.categories, compiledCategory{CategoryRule: rule, re: re})
	}
	sort.SliceStable(h.categories, func(i, j int) bool {
		return h.categories[i].Priority > h.categories[j].Priority
	})

	return h, nil
}

// LoadTables decodes YAML overrides on top of DefaultTables. Lists in the
// document replace the default lists; canonical names are merged.
func LoadTables(r io.Reader) (*Heuristics, error) {
	tables := DefaultTables()
	if err := yaml.NewDecoder(r).Decode(&tables); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode heuristic tables: %w", err)
	}
	return tables.Compile()
}

// LoadTablesFile loads overrides from path, or the defaults when path is empty.
func LoadTablesFile(path string) (*Heuristics, error) {
	if path == "" {
		return DefaultHeuristics()
	}
	f, err := os.Open(path) //nolint:gosec // Path comes from user configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open heuristic tables: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadTables(f)
}

// DefaultHeuristics compiles DefaultTables.
func DefaultHeuristics() (*Heuristics, error) {
	return DefaultTables().Compile()
}

// KnownSenders returns the ordered sender identifiers.
func (h *Heuristics) KnownSenders() []string {
	return append([]string(nil), h.senders...)
}

// Keywords returns the receipt keywords used for mailbox search.
func (h *Heuristics) Keywords() []string {
	return append([]string(nil), h.keywords...)
}

// DefaultCategory is the category assigned when no rule matches.
func (h *Heuristics) DefaultCategory() string {
	return h.defaultCategory
}

// UnknownName is the sentinel for unresolvable service names.
func (h *Heuristics) UnknownName() string {
	return h.unknownName
}

func wordStartRegex(words []string) (*regexp.Regexp, error) {
	if len(words) == 0 {
		// Matches nothing.
		return regexp.Compile(`[^\s\S]`)
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)`)
}

func compileInsensitive(expr string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(expr, "(?i)") {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
