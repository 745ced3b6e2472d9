// Package recurring detects subscriptions in bank transaction ledgers by
// looking for regularly spaced charges of a near-constant amount.
package recurring

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// Config holds the grouper's tolerances.
type Config struct {
	DefaultCategory     string
	UnknownName         string
	RegularityThreshold float64 // Maximum mean absolute deviation as a share of the mean amount
	MinTransactions     int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RegularityThreshold: 0.15,
		MinTransactions:     2,
		DefaultCategory:     "Other",
		UnknownName:         "Unknown",
	}
}

// Grouper turns transaction ledgers into detection candidates.
type Grouper struct {
	logger *slog.Logger
	config Config
}

// New creates a grouper with the default configuration.
func New() *Grouper {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a grouper with a custom configuration.
func NewWithConfig(config Config) *Grouper {
	if config.MinTransactions < 2 {
		config.MinTransactions = 2
	}
	return &Grouper{
		config: config,
		logger: slog.Default().With("component", "grouper"),
	}
}

type group struct {
	key  string
	name string
	txns []model.RawTransaction
}

// Group returns one candidate per counterparty whose debits recur at a
// recognizable cycle, sorted by descending confidence.
func (g *Grouper) Group(transactions []model.RawTransaction) []model.DetectionCandidate {
	groups := g.groupByCounterparty(transactions)

	candidates := make([]model.DetectionCandidate, 0, len(groups))
	for _, grp := range groups {
		cand, ok := g.analyze(grp)
		if !ok {
			continue
		}
		candidates = append(candidates, cand)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Key() < candidates[j].Key()
	})

	return candidates
}

// groupByCounterparty collects debits by normalized counterparty, keeping
// groups in first-seen order.
func (g *Grouper) groupByCounterparty(transactions []model.RawTransaction) []*group {
	index := make(map[string]*group)
	var ordered []*group

	for _, txn := range transactions {
		if !txn.IsDebit() {
			continue
		}

		name := strings.TrimSpace(txn.CounterpartyName)
		if name == "" {
			name = strings.TrimSpace(txn.CounterpartyMemo) // Fallback to remittance text
		}
		if name == "" {
			name = g.config.UnknownName
		}

		key := model.DedupKey(name)
		grp, ok := index[key]
		if !ok {
			grp = &group{key: key, name: name}
			index[key] = grp
			ordered = append(ordered, grp)
		}
		grp.txns = append(grp.txns, txn)
	}

	return ordered
}

func (g *Grouper) analyze(grp *group) (model.DetectionCandidate, bool) {
	if len(grp.txns) < g.config.MinTransactions {
		return model.DetectionCandidate{}, false
	}

	mean, deviation := amountStats(grp.txns)
	if !mean.IsPositive() {
		return model.DetectionCandidate{}, false
	}

	ratio := deviation.Div(mean).InexactFloat64()
	if ratio >= g.config.RegularityThreshold {
		g.logger.Debug("irregular amounts", "counterparty", grp.name, "deviation_ratio", ratio)
		return model.DetectionCandidate{}, false
	}

	txns := append([]model.RawTransaction(nil), grp.txns...)
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].BookingDate.Before(txns[j].BookingDate)
	})
	first, last := txns[0], txns[len(txns)-1]

	interval := averageInterval(first.BookingDate, last.BookingDate, len(txns))
	cycle, ok := CycleForInterval(interval)
	if !ok {
		g.logger.Debug("no billing cycle", "counterparty", grp.name, "interval_days", interval)
		return model.DetectionCandidate{}, false
	}

	return model.DetectionCandidate{
		Name:       grp.name,
		Price:      decimal.NewNullDecimal(mean.Round(2)),
		Currency:   first.Currency,
		Cycle:      cycle,
		Category:   g.config.DefaultCategory,
		Confidence: clamp01(1 - ratio),
		Source:     model.SourceTransaction,
		SourceRef:  last.Ref(),
		SeenAt:     last.BookingDate,
	}, true
}

// amountStats returns the mean absolute amount and the mean absolute
// deviation from it.
func amountStats(txns []model.RawTransaction) (mean, deviation decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(txns)))

	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.Amount.Abs())
	}
	mean = sum.Div(n)

	spread := decimal.Zero
	for _, txn := range txns {
		spread = spread.Add(txn.Amount.Abs().Sub(mean).Abs())
	}
	return mean, spread.Div(n)
}

// averageInterval is the total span over count-1 in days, not the mean of
// the pairwise gaps.
func averageInterval(first, last time.Time, count int) float64 {
	return last.Sub(first).Hours() / 24 / float64(count-1)
}

// CycleForInterval maps an average interval in days to a billing cycle.
// The monthly and quarterly bands are open at both ends. Intervals outside
// every band are not recurring.
func CycleForInterval(days float64) (model.Cycle, bool) {
	switch {
	case days < 10:
		return model.CycleWeekly, true
	case days > 25 && days < 32:
		return model.CycleMonthly, true
	case days > 80 && days < 100:
		return model.CycleQuarterly, true
	case days > 350:
		return model.CycleYearly, true
	default:
		return "", false
	}
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
