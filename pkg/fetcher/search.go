package fetcher

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/store"
)

// SearchConfig governs S-Search.
type SearchConfig struct {
	BaseThreshold   int
	DateRangeDays   int
	Limit           int // per-tick quota this strategy aims to contribute
	DiscoveryRate   float64
	PairSliceLimit  int // per-pair request size, ~30
}

// SearchStrategy is S-Search: Phase A pair search over GetTopPairs, Phase
// B weighted-sample fallback over single top-N tags, Phase C exploratory
// discovery injection, matching spec.md §4.4.
type SearchStrategy struct {
	cfg      SearchConfig
	store    *store.Store
	platform platform.Client
	rng      *rand.Rand
}

// NewSearchStrategy builds S-Search.
func NewSearchStrategy(cfg SearchConfig, st *store.Store, pc platform.Client) *SearchStrategy {
	if cfg.PairSliceLimit <= 0 {
		cfg.PairSliceLimit = 30
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	return &SearchStrategy{cfg: cfg, store: st, platform: pc, rng: rand.New(rand.NewSource(1))}
}

func (s *SearchStrategy) Name() string { return "search" }

func (s *SearchStrategy) Produce(ctx context.Context, tags []WeightedTag) ([]platform.Work, error) {
	if len(tags) == 0 {
		slog.Warn("search strategy: no profile tags, skipping")
		return nil, nil
	}

	var all []platform.Work
	quota := s.cfg.Limit
	pairQuota := int(float64(quota) * 0.6)

	pairs, err := s.store.GetTopPairs(ctx, 50)
	if err != nil {
		return all, err
	}

	weightByTag := make(map[string]float64, len(tags))
	for _, t := range tags {
		weightByTag[t.Tag] = t.Weight
	}

	usedPairTags := map[string]struct{}{}
	for _, pair := range pairs {
		if len(all) >= pairQuota {
			break
		}
		t1, t2 := pair.TagA, pair.TagB

		q1base := expandSynonyms(t1)
		q2base := expandSynonyms(t2)
		if redundantPair(q1base, q2base, t1, t2) {
			slog.Debug("skipping redundant pair", "tag_a", t1, "tag_b", t2)
			continue
		}

		raw1, err := s.store.BestRawFor(ctx, t1)
		if err != nil {
			return all, err
		}
		raw2, err := s.store.BestRawFor(ctx, t2)
		if err != nil {
			return all, err
		}
		q1 := expandWithRaw(t1, raw1)
		q2 := expandWithRaw(t2, raw2)

		avgWeight := (weightByTag[t1] + weightByTag[t2]) / 2
		threshold := adaptiveThreshold(s.cfg.BaseThreshold, avgWeight, true)

		works, err := s.platform.SearchIllusts(ctx, []string{q1, q2}, threshold, s.cfg.DateRangeDays, s.cfg.PairSliceLimit)
		if err != nil {
			slog.Error("pair search failed", "tag_a", t1, "tag_b", t2, "error", err)
			continue
		}
		all = append(all, works...)
		usedPairTags[t1] = struct{}{}
		usedPairTags[t2] = struct{}{}
	}

	remaining := quota - len(all)
	if remaining > 0 {
		var candidates []WeightedTag
		for _, t := range tags {
			if _, used := usedPairTags[t.Tag]; used {
				continue
			}
			candidates = append(candidates, t)
		}
		for attempt := 0; attempt < 3 && remaining > 0; attempt++ {
			picked := s.weightedSample(candidates, 1)
			if len(picked) == 0 {
				continue
			}
			tag := picked[0]

			raw, err := s.store.BestRawFor(ctx, tag)
			if err != nil {
				return all, err
			}
			q := expandWithRaw(tag, raw)
			threshold := adaptiveThreshold(s.cfg.BaseThreshold, weightByTag[tag], false)

			sliceLimit := remaining / 2
			if sliceLimit <= 0 {
				sliceLimit = remaining
			}
			works, err := s.platform.SearchIllusts(ctx, []string{q}, threshold, s.cfg.DateRangeDays, sliceLimit)
			if err != nil {
				slog.Error("single-tag search failed", "tag", tag, "error", err)
				continue
			}
			all = append(all, works...)
			remaining = quota - len(all)
		}
	}

	if s.cfg.DiscoveryRate > 0 && s.rng.Float64() < s.cfg.DiscoveryRate {
		if exploratory := s.pickExploratoryTag(tags); exploratory != "" {
			q := expandSynonyms(exploratory)
			works, err := s.platform.SearchIllusts(ctx, []string{q}, 100, s.cfg.DateRangeDays, 10)
			if err != nil {
				slog.Error("exploratory search failed", "tag", exploratory, "error", err)
			} else {
				all = append(all, works...)
			}
		}
	}

	return all, nil
}

// weightedSample draws k tags without replacement, probability
// proportional to weight, matching the source's _weighted_sample.
func (s *SearchStrategy) weightedSample(weighted []WeightedTag, k int) []string {
	if len(weighted) <= k {
		out := make([]string, len(weighted))
		for i, t := range weighted {
			out[i] = t.Tag
		}
		return out
	}

	pool := append([]WeightedTag(nil), weighted...)
	var selected []string
	for len(selected) < k && len(pool) > 0 {
		var total float64
		for _, t := range pool {
			total += t.Weight
		}
		if total <= 0 {
			selected = append(selected, pool[0].Tag)
			pool = pool[1:]
			continue
		}
		r := s.rng.Float64() * total
		var cumsum float64
		for i, t := range pool {
			cumsum += t.Weight
			if r <= cumsum {
				selected = append(selected, t.Tag)
				pool = append(pool[:i], pool[i+1:]...)
				break
			}
		}
	}
	return selected
}

// pickExploratoryTag picks a random tag from the lower-weighted half of
// the profile, the Phase C discovery injection.
func (s *SearchStrategy) pickExploratoryTag(tags []WeightedTag) string {
	if len(tags) == 0 {
		return ""
	}
	sorted := append([]WeightedTag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Weight < sorted[j].Weight })
	half := sorted[:len(sorted)/2+1]
	return half[s.rng.Intn(len(half))].Tag
}
