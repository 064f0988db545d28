// Package review selects matches for human review and exports the queue.
package review

import (
	"crypto/sha256"
	"math"
	"sort"

	"github.com/sells-group/matchguard/internal/config"
	"github.com/sells-group/matchguard/internal/model"
)

// StatusPending is the status of a freshly queued review item.
const StatusPending = "pending"

// Sampler builds a stratified review queue: every match below Floor, plus a
// Rate fraction of the remaining matches of each entity. The selection
// depends only on match ids, so the same input always yields the same queue.
type Sampler struct {
	Floor float64
	Rate  float64
}

// NewSampler builds a Sampler from the review config.
func NewSampler(cfg config.ReviewConfig) *Sampler {
	return &Sampler{Floor: cfg.ManualReviewThreshold, Rate: cfg.SampleRate}
}

// Sample returns the review items for runID. Below-floor items come first,
// lowest confidence first; sampled items follow, grouped by entity.
func (s *Sampler) Sample(runID string, matches []model.MatchResult) []model.ReviewItem {
	var below []model.MatchResult
	strata := make(map[string][]model.MatchResult)
	for _, m := range matches {
		if m.Confidence < s.Floor {
			below = append(below, m)
			continue
		}
		strata[m.Match.EntityKey] = append(strata[m.Match.EntityKey], m)
	}

	sort.SliceStable(below, func(i, j int) bool {
		if below[i].Confidence != below[j].Confidence {
			return below[i].Confidence < below[j].Confidence
		}
		return below[i].Match.ID < below[j].Match.ID
	})

	items := make([]model.ReviewItem, 0, len(below))
	for _, m := range below {
		items = append(items, item(runID, m, model.ReviewBelowFloor))
	}

	keys := make([]string, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, m := range s.pick(strata[k]) {
			items = append(items, item(runID, m, model.ReviewSampled))
		}
	}
	return items
}

// Quota is the number of matches sampled from a stratum of size n.
func (s *Sampler) Quota(n int) int {
	if n == 0 || s.Rate <= 0 {
		return 0
	}
	return min(n, int(math.Ceil(float64(n)*s.Rate)))
}

// pick orders a stratum by the hash of each match id and keeps the first
// Quota entries, returned in match id order.
func (s *Sampler) pick(stratum []model.MatchResult) []model.MatchResult {
	k := s.Quota(len(stratum))
	if k == 0 {
		return nil
	}
	ranked := make([]model.MatchResult, len(stratum))
	copy(ranked, stratum)
	sort.Slice(ranked, func(i, j int) bool {
		hi, hj := rank(ranked[i].Match.ID), rank(ranked[j].Match.ID)
		if hi != hj {
			return hi < hj
		}
		return ranked[i].Match.ID < ranked[j].Match.ID
	})
	out := ranked[:k]
	sort.Slice(out, func(i, j int) bool { return out[i].Match.ID < out[j].Match.ID })
	return out
}

func rank(id string) string {
	sum := sha256.Sum256([]byte(id))
	return string(sum[:8])
}

func item(runID string, m model.MatchResult, reason model.ReviewReason) model.ReviewItem {
	return model.ReviewItem{RunID: runID, Result: m, Reason: reason, Status: StatusPending}
}
