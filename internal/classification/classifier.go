package classification

import (
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Veraticus/subscription-copilot/internal/extract"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

// Confidence weights on the 0-100 email scale.
const (
	WeightSender        = 40
	WeightKeyword       = 30
	WeightPrice         = 20
	WeightReceipt       = 10
	SuspiciousPenalty   = 30
	SuspiciousFloor     = 5
	minResolvableLength = 3
)

// RejectReason explains why an email produced no detection.
type RejectReason string

// Rejection reasons, in rule order.
const (
	Accepted          RejectReason = ""
	RejectBlacklisted RejectReason = "blacklisted sender"
	RejectGenericName RejectReason = "generic sender name"
	RejectNoSignal    RejectReason = "no subscription signal"
	RejectNoPrice     RejectReason = "no price and no billing language"
)

// EmailClassifier turns extracted emails into detection candidates.
// It holds no mutable state and is safe for concurrent use.
type EmailClassifier struct {
	h           *Heuristics
	logger      *slog.Logger
	extractOpts []extract.Option
}

// ClassifierOption configures an EmailClassifier.
type ClassifierOption func(*EmailClassifier)

// WithLogger sets the classifier's logger.
func WithLogger(logger *slog.Logger) ClassifierOption {
	return func(c *EmailClassifier) {
		c.logger = logger
	}
}

// WithExtractOptions passes options to the text extractor.
func WithExtractOptions(opts ...extract.Option) ClassifierOption {
	return func(c *EmailClassifier) {
		c.extractOpts = append(c.extractOpts, opts...)
	}
}

// NewEmailClassifier creates a classifier over compiled heuristics.
func NewEmailClassifier(h *Heuristics, opts ...ClassifierOption) *EmailClassifier {
	c := &EmailClassifier{
		h:      h,
		logger: slog.Default().With("component", "classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClassifyEmail extracts raw and classifies it. A decode failure is returned
// as an error; a rejection is a nil candidate with a reason.
func (c *EmailClassifier) ClassifyEmail(raw *model.RawEmail) (*model.DetectionCandidate, RejectReason, error) {
	msg, err := extract.Extract(raw, c.extractOpts...)
	if err != nil {
		return nil, Accepted, fmt.Errorf("failed to extract email %s: %w", raw.ID, err)
	}
	cand, reason := c.Classify(msg, raw.ID)
	return cand, reason, nil
}

// Classify applies the detection rules to an extracted message, in order.
// ref is stored as the candidate's source reference.
func (c *EmailClassifier) Classify(msg extract.Message, ref string) (*model.DetectionCandidate, RejectReason) {
	h := c.h
	address, display := splitFrom(msg.From)
	lowerAddr := strings.ToLower(address)
	lowerFrom := strings.ToLower(msg.From)
	lowerSubject := strings.ToLower(msg.Subject)

	if containsAny(lowerAddr, h.blacklist) != "" {
		return nil, RejectBlacklisted
	}

	suspicious := containsAny(lowerFrom, h.suspicious) != "" ||
		containsAny(lowerSubject, h.suspicious) != ""

	matched := containsAny(lowerAddr, h.senders)

	var name string
	if matched != "" {
		name = h.displayName(matched)
	} else {
		name = h.resolveName(address, display)
	}

	if h.isGeneric(name) {
		return nil, RejectGenericName
	}

	text := msg.Text()
	hasKeyword := h.keywordRe.MatchString(text)

	if matched == "" && !hasKeyword && utf8.RuneCountInString(name) < minResolvableLength {
		return nil, RejectNoSignal
	}

	billing := h.billingRe.MatchString(text)
	price, found := h.selectPrice(extract.ScanPrices(text), billing)
	if !found && !billing {
		return nil, RejectNoPrice
	}

	cand := &model.DetectionCandidate{
		Name:       name,
		Currency:   h.defaultCurrency,
		Cycle:      model.CycleMonthly,
		Category:   h.category(name),
		Suspicious: suspicious,
		Source:     model.SourceEmail,
		SourceRef:  ref,
	}
	if found {
		cand.Price = decimal.NewNullDecimal(price.Value)
		cand.Currency = price.Symbol
	}
	if h.yearlyRe.MatchString(text) {
		cand.Cycle = model.CycleYearly
	}
	if t, err := mail.ParseDate(msg.Date); err == nil {
		cand.SeenAt = t
	}

	confidence := 0
	if matched != "" {
		confidence += WeightSender
	}
	if hasKeyword {
		confidence += WeightKeyword
	}
	if found {
		confidence += WeightPrice
	}
	if h.receiptRe.MatchString(msg.Subject) {
		confidence += WeightReceipt
	}
	if suspicious {
		confidence = max(confidence-SuspiciousPenalty, SuspiciousFloor)
	}
	cand.Confidence = float64(confidence)

	c.logger.Debug("email classified",
		"ref", ref,
		"name", cand.Name,
		"confidence", cand.Confidence,
		"suspicious", cand.Suspicious)

	return cand, Accepted
}

// selectPrice prefers the first plausible price, then the smallest sane
// price when the text reads like an actual bill.
func (h *Heuristics) selectPrice(prices []extract.Price, billing bool) (extract.Price, bool) {
	sane := make([]extract.Price, 0, len(prices))
	for _, p := range prices {
		if p.Value.IsPositive() && p.Value.LessThan(h.ceiling) {
			sane = append(sane, p)
		}
	}

	for _, p := range sane {
		if p.Value.GreaterThanOrEqual(h.plausibleMin) && p.Value.LessThanOrEqual(h.plausibleMax) {
			return p, true
		}
	}

	if !billing || len(sane) == 0 {
		return extract.Price{}, false
	}

	smallest := sane[0]
	for _, p := range sane[1:] {
		if p.Value.LessThan(smallest.Value) {
			smallest = p
		}
	}
	return smallest, true
}

// resolveName derives a service name from the sender domain, falling back to
// the first word of the display name.
func (h *Heuristics) resolveName(address, display string) string {
	if label := domainLabel(address); label != "" {
		return h.displayName(label)
	}
	if fields := strings.Fields(display); len(fields) > 0 {
		return h.displayName(strings.Trim(fields[0], `"',.`))
	}
	return h.unknownName
}

// displayName maps an identifier through the canonical table, or title-cases it.
// Generic identifiers resolve to the unknown sentinel.
func (h *Heuristics) displayName(id string) string {
	lower := strings.ToLower(id)
	if lower == "" || h.isGeneric(lower) {
		return h.unknownName
	}
	if name, ok := h.canonical[lower]; ok {
		return name
	}
	// A Caser is stateful, so one per call.
	return cases.Title(language.English).String(lower)
}

func (h *Heuristics) isGeneric(name string) bool {
	_, ok := h.generic[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (h *Heuristics) category(name string) string {
	for _, rule := range h.categories {
		if rule.re.MatchString(name) {
			return rule.Category
		}
	}
	return h.defaultCategory
}

// secondLevel holds labels that sit between a registrable name and a country
// code, as in "bbc.co.uk".
var secondLevel = map[string]bool{
	"co": true, "com": true, "org": true, "net": true, "ac": true, "gov": true,
}

// domainLabel returns the registrable label of an address's domain:
// "billing@mail.example.com" yields "example".
func domainLabel(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return ""
	}
	labels := strings.Split(strings.ToLower(strings.Trim(address[at+1:], ".> ")), ".")
	switch n := len(labels); {
	case n == 1:
		return labels[0]
	case n >= 3 && secondLevel[labels[n-2]]:
		return labels[n-3]
	default:
		return labels[n-2]
	}
}

// splitFrom separates a From header into address and display name. Headers
// that do not parse are treated as a bare address.
func splitFrom(from string) (address, display string) {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address, addr.Name
	}
	if lt := strings.IndexByte(from, '<'); lt >= 0 {
		display = strings.TrimSpace(from[:lt])
		address = strings.Trim(from[lt+1:], "> ")
		return address, display
	}
	if strings.Contains(from, "@") {
		return strings.TrimSpace(from), ""
	}
	return "", strings.TrimSpace(from)
}

func containsAny(s string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return m
		}
	}
	return ""
}
