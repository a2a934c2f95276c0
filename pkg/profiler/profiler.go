// Package profiler builds and maintains the user's taste profile: a
// weighted tag vector plus co-occurrence pairs, matching spec.md §4.3.
package profiler

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kzmtkz/xppusher/pkg/normalizer"
	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/store"
	"github.com/kzmtkz/xppusher/pkg/xperrors"
)

// Config governs weight math.
type Config struct {
	OwnerID        int64
	IncludePrivate bool
	ScanLimit      int
	StopWords      []string

	// TopN is the number of highest-weighted tags Build reports, per
	// spec.md §6's `profiler.top_n` (default 20).
	TopN int

	// DecayTauDays resolves spec.md's Open Question: weight contribution
	// of a bookmark decays as exp(-age_days / DecayTauDays).
	DecayTauDays float64

	LikeDelta          float64
	DislikeDelta       float64
	BlacklistThreshold int
}

// Profiler owns the single-writer lock serializing Build against
// ApplyReaction, resolving spec.md's Open Question about concurrent
// rebuild vs feedback races.
type Profiler struct {
	cfg      Config
	store    *store.Store
	platform platform.Client
	norm     *normalizer.Normalizer

	mu sync.Mutex
}

// New builds a Profiler.
func New(cfg Config, st *store.Store, pc platform.Client, norm *normalizer.Normalizer) *Profiler {
	if cfg.DecayTauDays <= 0 {
		cfg.DecayTauDays = 180
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	return &Profiler{cfg: cfg, store: st, platform: pc, norm: norm}
}

// decay is the bookmark-age freshness prior: exp(-age_days/tau).
func decay(age time.Duration, tauDays float64) float64 {
	ageDays := age.Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / tauDays)
}

// Build pulls the user's bookmarks (via PlatformClient, or the cached
// BookmarkScan snapshot when the sync cursor indicates completeness),
// normalizes tags, aggregates weighted tag and co-occurrence vectors, and
// atomically replaces the stored profile. Returns the top-N tags in
// stable order (weight desc, then tag asc).
func (p *Profiler) Build(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	works, err := p.loadBookmarks(ctx)
	if err != nil {
		return nil, err
	}

	stop := make(map[string]struct{}, len(p.cfg.StopWords))
	for _, w := range p.cfg.StopWords {
		stop[w] = struct{}{}
	}

	weights := map[string]float64{}
	pairWeights := map[[2]string]float64{}
	now := time.Now()

	for _, w := range works {
		result, err := p.norm.Normalize(ctx, w.Tags)
		if err != nil {
			return nil, err
		}
		tags := make([]string, 0, len(result.Clean))
		for _, t := range result.Clean {
			if _, blocked := stop[t]; blocked {
				continue
			}
			tags = append(tags, t)
		}
		if len(tags) == 0 {
			continue
		}

		d := decay(now.Sub(w.CreateDate), p.cfg.DecayTauDays)
		for _, t := range tags {
			weights[t] += d
		}
		for i := 0; i < len(tags); i++ {
			for j := i + 1; j < len(tags); j++ {
				a, b := tags[i], tags[j]
				if a > b {
					a, b = b, a
				}
				if a == b {
					continue
				}
				pairWeights[[2]string{a, b}] += d
			}
		}
	}

	normalizeMax(weights)

	pairs := make([]store.ProfilePair, 0, len(pairWeights))
	for k, w := range pairWeights {
		pairs = append(pairs, store.ProfilePair{TagA: k[0], TagB: k[1], Weight: w})
	}

	if err := p.store.ReplaceProfile(ctx, weights); err != nil {
		return nil, xperrors.NewStoreError("replace_profile", err)
	}
	if err := p.store.ReplacePairs(ctx, pairs); err != nil {
		return nil, xperrors.NewStoreError("replace_pairs", err)
	}

	topN := store.TopNTags(weights, p.cfg.TopN)
	return topN, nil
}

// normalizeMax scales every weight so the maximum equals 1.0, in place.
// A map with all-zero (or empty) weights is left untouched, matching
// spec.md's boundary behavior of an empty top-N from an all-zero
// profile.
func normalizeMax(weights map[string]float64) {
	var max float64
	for _, w := range weights {
		if w > max {
			max = w
		}
	}
	if max <= 0 {
		return
	}
	for t, w := range weights {
		weights[t] = w / max
	}
}

// loadBookmarks pulls from BookmarkScan cache when SystemState indicates
// a completed scan; otherwise pulls live from the platform and persists
// the scan for next time (supplemented feature: a restart does not
// re-walk the full bookmark history).
func (p *Profiler) loadBookmarks(ctx context.Context) ([]store.BookmarkWork, error) {
	cursor, err := p.store.GetState(ctx, bookmarkScanCursorKey)
	if err != nil {
		return nil, xperrors.NewStoreError("get_state", err)
	}
	if cursor == "complete" {
		cached, err := p.store.BookmarkScans(ctx, p.cfg.OwnerID)
		if err != nil {
			return nil, xperrors.NewStoreError("bookmark_scans", err)
		}
		if len(cached) > 0 {
			return cached, nil
		}
	}

	works, err := p.platform.Bookmarks(ctx, p.cfg.OwnerID, p.cfg.IncludePrivate, p.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}

	scans := make([]store.BookmarkWork, 0, len(works))
	for _, w := range works {
		scans = append(scans, store.BookmarkWork{ID: w.ID, Tags: w.Tags, CreateDate: w.CreatedAt})
	}
	if err := p.store.SaveBookmarkScans(ctx, p.cfg.OwnerID, scans); err != nil {
		return nil, xperrors.NewStoreError("save_bookmark_scans", err)
	}
	if err := p.store.SetState(ctx, bookmarkScanCursorKey, "complete"); err != nil {
		return nil, xperrors.NewStoreError("set_state", err)
	}

	return scans, nil
}

const bookmarkScanCursorKey = "bookmark_scan_cursor"

// Reaction is the per-work feedback event, matching spec.md §4.3.
type Reaction struct {
	WorkID int64
	Action string // "like" | "dislike" | "skip"
	Tags   []string
}

// ApplyReaction translates a like/dislike/skip into weight adjustments
// and blacklist increments; local Store mutation always completes first.
// The returned mirrorErr reports a best-effort platform-mirror failure
// (Bookmark/Unbookmark) that the caller should surface as a chat UI
// warning without rolling back the local state, per spec.md §7 and E6.
// Serialized against Build by the same mutex.
func (p *Profiler) ApplyReaction(ctx context.Context, r Reaction) (mirrorErr error, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.RecordReaction(ctx, r.WorkID, r.Action); err != nil {
		return nil, xperrors.NewStoreError("record_reaction", err)
	}

	switch r.Action {
	case "like":
		for _, tag := range r.Tags {
			if err := p.store.AdjustWeight(ctx, tag, p.cfg.LikeDelta); err != nil {
				return nil, xperrors.NewStoreError("adjust_weight", err)
			}
		}
		mirrorErr = p.mirror(ctx, func() error { return p.platform.Bookmark(ctx, r.WorkID) })

	case "dislike":
		for _, tag := range r.Tags {
			if err := p.store.AdjustWeight(ctx, tag, -p.cfg.DislikeDelta); err != nil {
				return nil, xperrors.NewStoreError("adjust_weight", err)
			}
		}
		distinctive, derr := p.mostDistinctiveTag(ctx, r.Tags)
		if derr != nil {
			return nil, derr
		}
		if distinctive != "" {
			if _, err := p.store.IncrementDislike(ctx, distinctive); err != nil {
				return nil, xperrors.NewStoreError("increment_dislike", err)
			}
		}
		mirrorErr = p.mirror(ctx, func() error { return p.platform.Unbookmark(ctx, r.WorkID) })

	case "skip":
		// recorded without weight change.
	}

	return mirrorErr, nil
}

// mostDistinctiveTag picks the work's rarest tag in the current profile
// (lowest weight), treating it as the tag most responsible for the
// dislike — a simple proxy for a tf-idf-like score per spec.md §4.3.
func (p *Profiler) mostDistinctiveTag(ctx context.Context, tags []string) (string, error) {
	profile, err := p.store.GetProfile(ctx)
	if err != nil {
		return "", xperrors.NewStoreError("get_profile", err)
	}

	var best string
	bestWeight := math.Inf(1)
	for _, t := range tags {
		w, ok := profile[t]
		if !ok {
			continue
		}
		if w < bestWeight || (w == bestWeight && (best == "" || t < best)) {
			bestWeight = w
			best = t
		}
	}
	if best == "" && len(tags) > 0 {
		sorted := append([]string(nil), tags...)
		sort.Strings(sorted)
		best = sorted[0]
	}
	return best, nil
}

// mirror attempts a platform mutation synchronously and returns its
// error without rolling back the already-committed local state, matching
// spec.md §7's reaction-mirroring policy. The caller surfaces a non-nil
// result as a chat UI warning.
func (p *Profiler) mirror(ctx context.Context, fn func() error) error {
	if p.platform == nil {
		return nil
	}
	return fn()
}
