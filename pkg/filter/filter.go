// Package filter applies the hard-exclude/age/score/quota/daily-limit
// pipeline described in spec.md §4.5, turning a raw candidate union into
// the final push list.
package filter

import (
	"context"
	"sort"
	"time"

	"github.com/kzmtkz/xppusher/pkg/config"
	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/store"
)

// Config combines the hard-exclude/quota settings from FilterConfig with
// the match-score thresholds configured alongside the Fetcher, since
// spec.md §6 keeps `fetcher.match_score` separate from `filter.*`.
type Config struct {
	config.FilterConfig
	MatchScore config.MatchScoreConfig
	// BlacklistThreshold is the dislike count at which TagBlacklist rows
	// become effectively blacklisted (mirrors profiler.Config's field,
	// since a tag must cross the threshold before the Filter hard-excludes it).
	BlacklistThreshold int
}

func (c Config) minMatchScore() float64 {
	return c.MatchScore.MinThreshold
}

func (c Config) weightInSort() float64 {
	if c.MatchScore.WeightInSort == 0 {
		return 0.5
	}
	return c.MatchScore.WeightInSort
}

// TagNormalizer is the subset of *normalizer.Normalizer the Filter needs:
// a cache-only canonicalization lookup (spec.md §4.5 stage 3's
// `profile[normalize(t)]`), never a remote cleaner call per candidate.
type TagNormalizer interface {
	NormalizeCached(ctx context.Context, raw []string) ([]string, error)
}

// Filter runs the fixed five-stage pipeline.
type Filter struct {
	cfg        Config
	store      *store.Store
	normalizer TagNormalizer
}

// New builds a Filter.
func New(cfg Config, st *store.Store, norm TagNormalizer) *Filter {
	return &Filter{cfg: cfg, store: st, normalizer: norm}
}

// Stats is the per-tick telemetry summary attached to the orchestrator's
// admin-channel report: a supplemented feature (present in
// original_source/main.py's end-of-run logging, dropped by the
// distillation). It counts candidates removed at each hard-exclude
// reason, not a new Filter rule.
type Stats struct {
	Candidates        int
	AlreadyPushed      int
	Blacklisted        int
	Muted              int
	BlockedAuthor      int
	AIExcluded         int
	R18Excluded        int
	TooYoung           int
	BelowMatchScore    int
	ArtistQuotaDropped int
	DailyLimitDropped  int
	Passed             int
}

// subscribedSet is built from the author ids injected by the caller (the configured author
// list plus whoever the follow feed surfaced this tick) so the
// composite sort key's is_subscribed_author term can be computed.
type subscribedSet map[int64]struct{}

// Apply runs the full pipeline and returns the survivors in final push
// order (highest composite score first within the daily limit).
func (f *Filter) Apply(ctx context.Context, candidates []platform.Work, profile map[string]float64, subscribedAuthorIDs []int64) ([]platform.Work, Stats, error) {
	stats := Stats{Candidates: len(candidates)}

	subscribed := make(subscribedSet, len(subscribedAuthorIDs))
	for _, id := range subscribedAuthorIDs {
		subscribed[id] = struct{}{}
	}
	blockedAuthors := make(map[int64]struct{}, len(f.cfg.BlockedAuthors))
	for _, id := range f.cfg.BlockedAuthors {
		blockedAuthors[id] = struct{}{}
	}
	runtimeBlocked, err := f.store.BlockedAuthorIDs(ctx)
	if err != nil {
		return nil, stats, err
	}
	for _, id := range runtimeBlocked {
		blockedAuthors[id] = struct{}{}
	}
	blacklistTags := make(map[string]struct{}, len(f.cfg.BlacklistTags))
	for _, t := range f.cfg.BlacklistTags {
		blacklistTags[t] = struct{}{}
	}

	storeBlacklist, err := f.store.Blacklist(ctx)
	if err != nil {
		return nil, stats, err
	}
	for _, row := range storeBlacklist {
		if row.DislikeCount >= f.cfg.BlacklistThreshold {
			blacklistTags[row.Tag] = struct{}{}
		}
	}

	mutes, err := f.store.ActiveMutes(ctx, time.Now())
	if err != nil {
		return nil, stats, err
	}
	mutedTags := make(map[string]struct{}, len(mutes))
	for _, m := range mutes {
		mutedTags[m.Tag] = struct{}{}
	}

	survivors := make([]platform.Work, 0, len(candidates))
	for _, w := range candidates {
		pushed, err := f.store.IsPushed(ctx, w.ID)
		if err != nil {
			return nil, stats, err
		}
		if pushed {
			stats.AlreadyPushed++
			continue
		}

		displayTags, err := f.normalizer.NormalizeCached(ctx, w.Tags)
		if err != nil {
			return nil, stats, err
		}
		w.DisplayTags = displayTags

		if hasAny(w.DisplayTags, blacklistTags) {
			stats.Blacklisted++
			continue
		}
		if hasAny(w.DisplayTags, mutedTags) {
			stats.Muted++
			continue
		}
		if _, blocked := blockedAuthors[w.AuthorID]; blocked {
			stats.BlockedAuthor++
			continue
		}
		if f.cfg.ExcludeAI && w.IsAIGenerated {
			stats.AIExcluded++
			continue
		}
		switch f.cfg.R18Mode {
		case "safe":
			if w.IsAdult {
				stats.R18Excluded++
				continue
			}
		case "r18_only":
			if !w.IsAdult {
				stats.R18Excluded++
				continue
			}
		}

		if f.cfg.MinCreateDays > 0 && time.Since(w.CreatedAt) < time.Duration(f.cfg.MinCreateDays)*24*time.Hour {
			stats.TooYoung++
			continue
		}

		survivors = append(survivors, w)
	}

	maxWeight := profileMax(profile)
	scored := make([]platform.Work, 0, len(survivors))
	for _, w := range survivors {
		score := matchScore(w, profile, maxWeight)
		w.MatchScore = &score
		scored = append(scored, w)
	}

	minScore := f.cfg.minMatchScore()
	final := scored[:0]
	for _, w := range scored {
		if *w.MatchScore < minScore {
			stats.BelowMatchScore++
			continue
		}
		final = append(final, w)
	}
	scored = final

	sort.SliceStable(scored, func(i, j int) bool {
		ki := f.compositeKey(scored[i], subscribed)
		kj := f.compositeKey(scored[j], subscribed)
		if ki != kj {
			return ki > kj
		}
		if scored[i].BookmarkCount != scored[j].BookmarkCount {
			return scored[i].BookmarkCount > scored[j].BookmarkCount
		}
		return scored[i].ID > scored[j].ID
	})

	quota := f.cfg.MaxPerArtist
	perAuthor := map[int64]int{}
	afterQuota := make([]platform.Work, 0, len(scored))
	for _, w := range scored {
		if quota > 0 && perAuthor[w.AuthorID] >= quota {
			stats.ArtistQuotaDropped++
			continue
		}
		perAuthor[w.AuthorID]++
		afterQuota = append(afterQuota, w)
	}

	final2 := afterQuota
	if f.cfg.DailyLimit >= 0 && len(final2) > f.cfg.DailyLimit {
		stats.DailyLimitDropped = len(final2) - f.cfg.DailyLimit
		final2 = final2[:f.cfg.DailyLimit]
	}

	stats.Passed = len(final2)
	return final2, stats, nil
}

func (f *Filter) compositeKey(w platform.Work, subscribed subscribedSet) float64 {
	alpha := f.cfg.weightInSort()
	score := 0.0
	if w.MatchScore != nil {
		score = *w.MatchScore
	}
	popularity := normalizedPopularity(w.BookmarkCount)
	_, isSub := subscribed[w.AuthorID]
	boost := 0.0
	if isSub {
		boost = f.cfg.ArtistBoost
	}
	return alpha*score + (1-alpha)*popularity + boost
}

func hasAny(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// matchScore implements spec.md §4.5's score formula: mean profile weight
// over the work's post-normalization tags (w.DisplayTags), normalized to
// [0,1] against the profile max. The profile's key space is canonical
// tags, so scoring must read profile[normalize(t)], not profile[t] over
// raw platform tags.
func matchScore(w platform.Work, profile map[string]float64, maxWeight float64) float64 {
	tags := w.DisplayTags
	if len(tags) == 0 || maxWeight <= 0 {
		return 0
	}
	var sum float64
	for _, t := range tags {
		sum += profile[t]
	}
	raw := sum / float64(len(tags))
	return raw / maxWeight
}

func profileMax(profile map[string]float64) float64 {
	var max float64
	for _, w := range profile {
		if w > max {
			max = w
		}
	}
	return max
}

// normalizedPopularity squashes a raw bookmark count into [0,1) via the
// saturating curve n/(n+10000) so a handful of extremely popular works don't
// dominate the composite sort key.
func normalizedPopularity(bookmarkCount int) float64 {
	if bookmarkCount <= 0 {
		return 0
	}
	const scale = 10000.0
	v := float64(bookmarkCount) / (float64(bookmarkCount) + scale)
	return v
}
