// Package engine drives detection over batches of raw records and folds the
// resulting candidates into canonical subscriptions.
package engine

import (
	"sort"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// Reducer merges detection candidates into canonical subscriptions keyed by
// normalized name. The zero value is not usable; call NewReducer.
type Reducer struct {
	index map[string]int
	subs  []entry // Insertion order
}

type entry struct {
	winner model.DetectionCandidate
	sub    model.Subscription
}

// NewReducer creates an empty reducer.
func NewReducer() *Reducer {
	return &Reducer{index: make(map[string]int)}
}

// Add folds one candidate into the canonical set.
func (r *Reducer) Add(cand model.DetectionCandidate) {
	key := cand.Key()
	if key == "" {
		return
	}

	i, ok := r.index[key]
	if !ok {
		r.index[key] = len(r.subs)
		r.subs = append(r.subs, entry{winner: cand, sub: canonical(cand, nil)})
		return
	}

	e := &r.subs[i]
	refs := appendUnique(e.sub.SourceRefs, cand.SourceRef)
	suspicious := e.sub.Suspicious && cand.Suspicious
	lastSeen := e.sub.LastSeen
	if cand.SeenAt.After(lastSeen) {
		lastSeen = cand.SeenAt
	}

	if supersedes(cand, e.winner) {
		e.winner = cand
		e.sub = canonical(cand, refs)
	} else {
		e.sub.SourceRefs = refs
	}
	e.sub.Suspicious = suspicious
	e.sub.LastSeen = lastSeen
}

// AddAll folds every candidate in order.
func (r *Reducer) AddAll(cands []model.DetectionCandidate) {
	for _, c := range cands {
		r.Add(c)
	}
}

// Len returns the number of canonical subscriptions so far.
func (r *Reducer) Len() int {
	return len(r.subs)
}

// Result returns the canonical subscriptions sorted by descending confidence.
func (r *Reducer) Result() []model.Subscription {
	out := make([]model.Subscription, 0, len(r.subs))
	for _, e := range r.subs {
		sub := e.sub
		sub.SourceRefs = append([]string(nil), e.sub.SourceRefs...)
		out = append(out, sub)
	}
	SortSubscriptions(out)
	return out
}

// Reduce merges candidates in one pass.
func Reduce(cands []model.DetectionCandidate) []model.Subscription {
	r := NewReducer()
	r.AddAll(cands)
	return r.Result()
}

// SortSubscriptions orders by descending confidence, then by dedup key.
func SortSubscriptions(subs []model.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Confidence != subs[j].Confidence {
			return subs[i].Confidence > subs[j].Confidence
		}
		return subs[i].Key() < subs[j].Key()
	})
}

// supersedes reports whether cand should replace the current canonical
// record. A strictly higher price wins; an absent price loses to any price.
// Equal prices fall back to recency, then confidence, then source ref, so the
// outcome does not depend on arrival order.
func supersedes(cand, current model.DetectionCandidate) bool {
	if c := model.ComparePrices(cand.Price, current.Price); c != 0 {
		return c > 0
	}
	switch {
	case !cand.SeenAt.Equal(current.SeenAt):
		return cand.SeenAt.After(current.SeenAt)
	case cand.NormalizedConfidence() != current.NormalizedConfidence():
		return cand.NormalizedConfidence() > current.NormalizedConfidence()
	default:
		return cand.SourceRef < current.SourceRef
	}
}

func canonical(c model.DetectionCandidate, refs []string) model.Subscription {
	if refs == nil {
		refs = appendUnique(nil, c.SourceRef)
	}
	return model.Subscription{
		Name:       c.Name,
		Price:      c.Price,
		Currency:   c.Currency,
		Cycle:      c.Cycle,
		Category:   c.Category,
		Confidence: c.NormalizedConfidence(),
		Suspicious: c.Suspicious,
		SourceRefs: refs,
		LastSeen:   c.SeenAt,
	}
}

func appendUnique(refs []string, ref string) []string {
	if ref == "" {
		return refs
	}
	for _, r := range refs {
		if r == ref {
			return refs
		}
	}
	return append(refs, ref)
}
