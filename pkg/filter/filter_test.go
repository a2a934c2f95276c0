package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/config"
	"github.com/kzmtkz/xppusher/pkg/normalizer"
	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/store"
)

func newTestFilter(t *testing.T, cfg Config) (*Filter, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	// No cache entries are seeded in these tests, so NormalizeCached falls
	// back to identity for every tag; scoring against raw tags stays valid.
	norm := normalizer.New(normalizer.Config{}, st)
	return New(cfg, st, norm), st
}

func baseConfig() Config {
	return Config{
		FilterConfig: config.FilterConfig{
			DailyLimit:    10,
			MaxPerArtist:  2,
			ArtistBoost:   0.1,
			MinCreateDays: 0,
			R18Mode:       "mixed",
		},
		MatchScore: config.MatchScoreConfig{MinThreshold: 0, WeightInSort: 0.5},
	}
}

func TestApplyDropsAlreadyPushed(t *testing.T) {
	f, st := newTestFilter(t, baseConfig())
	ctx := context.Background()
	require.NoError(t, st.MarkPushed(ctx, 9001, "search"))

	works := []platform.Work{
		{ID: 9001, Tags: []string{"maid"}, CreatedAt: time.Now()},
		{ID: 9002, Tags: []string{"maid"}, CreatedAt: time.Now()},
	}
	result, stats, err := f.Apply(ctx, works, map[string]float64{"maid": 1.0}, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, int64(9002), result[0].ID)
	require.Equal(t, 1, stats.AlreadyPushed)
}

func TestApplyDropsBlacklistedTag(t *testing.T) {
	f, st := newTestFilter(t, baseConfig())
	ctx := context.Background()
	_, err := st.IncrementDislike(ctx, "gore")
	require.NoError(t, err)

	works := []platform.Work{{ID: 1, Tags: []string{"gore"}, CreatedAt: time.Now()}}
	result, stats, err := f.Apply(ctx, works, map[string]float64{}, nil)
	require.NoError(t, err)
	require.Empty(t, result)
	require.Equal(t, 1, stats.Blacklisted)
}

func TestApplyR18SafeDropsAdult(t *testing.T) {
	cfg := baseConfig()
	cfg.R18Mode = "safe"
	f, _ := newTestFilter(t, cfg)

	works := []platform.Work{
		{ID: 1, Tags: []string{"maid"}, IsAdult: true, CreatedAt: time.Now()},
		{ID: 2, Tags: []string{"maid"}, IsAdult: false, CreatedAt: time.Now()},
	}
	result, stats, err := f.Apply(context.Background(), works, map[string]float64{"maid": 1.0}, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, int64(2), result[0].ID)
	require.Equal(t, 1, stats.R18Excluded)
}

func TestApplyDropsBelowMinMatchScore(t *testing.T) {
	cfg := baseConfig()
	cfg.MatchScore.MinThreshold = 0.5
	f, _ := newTestFilter(t, cfg)

	works := []platform.Work{
		{ID: 1, Tags: []string{"maid"}, CreatedAt: time.Now()},
		{ID: 2, Tags: []string{"unrelated"}, CreatedAt: time.Now()},
	}
	profile := map[string]float64{"maid": 1.0}
	result, stats, err := f.Apply(context.Background(), works, profile, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, int64(1), result[0].ID)
	require.Equal(t, 1, stats.BelowMatchScore)
}

func TestApplyEnforcesPerArtistQuota(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxPerArtist = 1
	f, _ := newTestFilter(t, cfg)

	works := []platform.Work{
		{ID: 1, AuthorID: 7, Tags: []string{"maid"}, BookmarkCount: 500, CreatedAt: time.Now()},
		{ID: 2, AuthorID: 7, Tags: []string{"maid"}, BookmarkCount: 100, CreatedAt: time.Now()},
	}
	result, stats, err := f.Apply(context.Background(), works, map[string]float64{"maid": 1.0}, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, int64(1), result[0].ID)
	require.Equal(t, 1, stats.ArtistQuotaDropped)
}

func TestApplyEnforcesDailyLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.DailyLimit = 1
	cfg.MaxPerArtist = 0
	f, _ := newTestFilter(t, cfg)

	works := []platform.Work{
		{ID: 1, AuthorID: 1, Tags: []string{"maid"}, CreatedAt: time.Now()},
		{ID: 2, AuthorID: 2, Tags: []string{"maid"}, CreatedAt: time.Now()},
	}
	result, stats, err := f.Apply(context.Background(), works, map[string]float64{"maid": 1.0}, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, 1, stats.DailyLimitDropped)
}

// TestApplyScoresAgainstNormalizedTags verifies spec.md §4.5 stage 3 reads
// profile[normalize(t)]: a candidate carrying the raw tag "maids" scores
// against the profile's canonical "maid" entry once the clean cache maps
// "maids" -> "maid", instead of scoring 0 against the raw key.
func TestApplyScoresAgainstNormalizedTags(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	canonical := "maid"
	require.NoError(t, st.UpsertCleanCache(context.Background(), map[string]*string{"maids": &canonical}))

	norm := normalizer.New(normalizer.Config{}, st)
	f := New(baseConfig(), st, norm)

	works := []platform.Work{{ID: 1, Tags: []string{"maids"}, CreatedAt: time.Now()}}
	result, _, err := f.Apply(context.Background(), works, map[string]float64{"maid": 1.0}, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, []string{"maid"}, result[0].DisplayTags)
	require.InDelta(t, 1.0, *result[0].MatchScore, 1e-9)
}

func TestApplyEmptyProfileYieldsZeroScore(t *testing.T) {
	f, _ := newTestFilter(t, baseConfig())
	works := []platform.Work{{ID: 1, Tags: []string{"maid"}, CreatedAt: time.Now()}}
	result, _, err := f.Apply(context.Background(), works, map[string]float64{}, nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.NotNil(t, result[0].MatchScore)
	require.Equal(t, 0.0, *result[0].MatchScore)
}
