package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMarkPushedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkPushed(ctx, 9001, "search"))
	pushed, err := s.IsPushed(ctx, 9001)
	require.NoError(t, err)
	require.True(t, pushed)

	// second MarkPushed for the same id must not error or duplicate.
	require.NoError(t, s.MarkPushed(ctx, 9001, "subscription"))

	var count int64
	require.NoError(t, s.db.Model(&PushRecord{}).Where("work_id = ?", 9001).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestReplaceProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	profile := map[string]float64{"maid": 1.0, "silver hair": 0.8}
	require.NoError(t, s.ReplaceProfile(ctx, profile))

	got, err := s.GetProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, profile, got)

	// a second replace with a disjoint set must fully supersede the first.
	require.NoError(t, s.ReplaceProfile(ctx, map[string]float64{"blue archive": 0.5}))
	got, err = s.GetProfile(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"blue archive": 0.5}, got)
}

func TestIncrementDislikeCrossesThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const threshold = 3
	var last int
	for i := 0; i < threshold; i++ {
		n, err := s.IncrementDislike(ctx, "watermark")
		require.NoError(t, err)
		last = n
	}
	require.Equal(t, threshold, last)

	rows, err := s.Blacklist(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "watermark", rows[0].Tag)
	require.GreaterOrEqual(t, rows[0].DislikeCount, threshold)
}

func TestCleanCacheNullSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCleanCache(ctx, map[string]*string{"meaningless_tag": nil}))

	snap, err := s.CleanCacheSnapshot(ctx)
	require.NoError(t, err)
	cleaned, ok := snap["meaningless_tag"]
	require.True(t, ok)
	require.Nil(t, cleaned)
}

func TestCacheWorkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tags := []string{"maid", "silver hair"}
	require.NoError(t, s.CacheWork(ctx, 1001, tags))

	got, err := s.CachedTags(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, tags, got)
}

func TestPruneExpiredMutes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, s.MuteTag(ctx, "stale", past))
	require.NoError(t, s.MuteTag(ctx, "fresh", future))

	n, err := s.PruneExpiredMutes(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	active, err := s.ActiveMutes(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "fresh", active[0].Tag)
}

func TestTopNTagsStableOrder(t *testing.T) {
	profile := map[string]float64{
		"silver hair":   1.0,
		"maid":          0.6,
		"blue archive":  0.6,
		"genshin impact": 0.2,
	}
	top := TopNTags(profile, 3)
	require.Equal(t, []string{"silver hair", "blue archive", "maid"}, top)
}
