package profiler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/normalizer"
	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/store"
)

// fakePlatform seeds Bookmarks() from BookmarkScan directly so Build can
// be exercised without a real platform.Client.
type fakePlatform struct {
	platform.Client
	works []platform.Work
}

func (f *fakePlatform) Bookmarks(ctx context.Context, ownerID int64, includePrivate bool, scanLimit int) ([]platform.Work, error) {
	return f.works, nil
}
func (f *fakePlatform) Bookmark(ctx context.Context, workID int64) error   { return nil }
func (f *fakePlatform) Unbookmark(ctx context.Context, workID int64) error { return nil }

func newTestProfiler(t *testing.T, works []platform.Work) (*Profiler, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	norm := normalizer.New(normalizer.Config{Model: "gpt-4o-mini"}, st)
	pc := &fakePlatform{works: works}

	p := New(Config{
		OwnerID:            42,
		ScanLimit:          500,
		DecayTauDays:       180,
		LikeDelta:          0.05,
		DislikeDelta:       0.05,
		BlacklistThreshold: 3,
	}, st, pc, norm)
	return p, st
}

// TestBuildE1 implements spec.md's E1 first-run-profile-build fixture.
func TestBuildE1(t *testing.T) {
	now := time.Now()
	works := []platform.Work{
		{ID: 1001, Tags: []string{"silver hair", "maid", "genshin impact"}, CreatedAt: now.AddDate(0, 0, -1)},
		{ID: 1002, Tags: []string{"silver hair", "blue archive"}, CreatedAt: now.AddDate(0, 0, -2)},
		{ID: 1003, Tags: []string{"maid", "blue archive"}, CreatedAt: now.AddDate(0, 0, -3)},
	}
	p, st := newTestProfiler(t, works)

	top, err := p.Build(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, top)

	profile, err := st.GetProfile(context.Background())
	require.NoError(t, err)

	// silver hair appears in w1001 (fresher) + w1002, maid in w1001+w1003,
	// blue archive in w1002+w1003, genshin impact only in w1001 (a single
	// contribution) -> silver hair > maid > blue archive > genshin impact.
	require.Greater(t, profile["silver hair"], profile["maid"])
	require.Greater(t, profile["maid"], profile["blue archive"])
	require.Greater(t, profile["blue archive"], profile["genshin impact"])

	var maxWeight float64
	for _, w := range profile {
		if w > maxWeight {
			maxWeight = w
		}
	}
	require.InDelta(t, 1.0, maxWeight, 1e-9)

	pairs, err := st.GetTopPairs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pairs, 5)
}

// TestBuildRespectsConfiguredTopN verifies profiler.top_n actually caps
// Build's returned slice: four distinct tags with a configured TopN of 2
// must yield exactly the 2 highest-weighted tags, not the default 20.
func TestBuildRespectsConfiguredTopN(t *testing.T) {
	now := time.Now()
	works := []platform.Work{
		{ID: 1, Tags: []string{"a"}, CreatedAt: now},
		{ID: 2, Tags: []string{"a"}, CreatedAt: now},
		{ID: 3, Tags: []string{"b"}, CreatedAt: now},
		{ID: 4, Tags: []string{"c"}, CreatedAt: now.AddDate(0, 0, -100)},
		{ID: 5, Tags: []string{"d"}, CreatedAt: now.AddDate(0, 0, -200)},
	}
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	norm := normalizer.New(normalizer.Config{Model: "gpt-4o-mini"}, st)
	pc := &fakePlatform{works: works}
	p := New(Config{OwnerID: 1, ScanLimit: 500, DecayTauDays: 180, TopN: 2}, st, pc, norm)

	top, err := p.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, []string{"a", "b"}, top)
}

func TestApplyReactionWeightsStayNonNegative(t *testing.T) {
	p, st := newTestProfiler(t, nil)
	ctx := context.Background()

	require.NoError(t, st.ReplaceProfile(ctx, map[string]float64{"watermark": 0.02}))

	for i := 0; i < 5; i++ {
		mirrorErr, err := p.ApplyReaction(ctx, Reaction{WorkID: int64(9000 + i), Action: "dislike", Tags: []string{"watermark"}})
		require.NoError(t, err)
		require.NoError(t, mirrorErr)
	}

	profile, err := st.GetProfile(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, profile["watermark"], 0.0)
}

func TestApplyReactionCrossesBlacklistThreshold(t *testing.T) {
	p, st := newTestProfiler(t, nil)
	ctx := context.Background()
	require.NoError(t, st.ReplaceProfile(ctx, map[string]float64{"watermark": 1.0}))

	for i := 0; i < 3; i++ {
		_, err := p.ApplyReaction(ctx, Reaction{WorkID: int64(8000 + i), Action: "dislike", Tags: []string{"watermark"}})
		require.NoError(t, err)
	}

	blacklist, err := st.Blacklist(ctx)
	require.NoError(t, err)
	require.Len(t, blacklist, 1)
	require.GreaterOrEqual(t, blacklist[0].DislikeCount, 3)
}

func TestApplyReactionSkipDoesNotChangeWeights(t *testing.T) {
	p, st := newTestProfiler(t, nil)
	ctx := context.Background()
	require.NoError(t, st.ReplaceProfile(ctx, map[string]float64{"maid": 0.5}))

	_, err := p.ApplyReaction(ctx, Reaction{WorkID: 1, Action: "skip", Tags: []string{"maid"}})
	require.NoError(t, err)

	profile, err := st.GetProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.5, profile["maid"])
}
