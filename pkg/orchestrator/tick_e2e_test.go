package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/config"
	"github.com/kzmtkz/xppusher/pkg/fetcher"
	"github.com/kzmtkz/xppusher/pkg/filter"
	"github.com/kzmtkz/xppusher/pkg/normalizer"
	"github.com/kzmtkz/xppusher/pkg/notifier"
	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/profiler"
	"github.com/kzmtkz/xppusher/pkg/store"
	"github.com/kzmtkz/xppusher/pkg/xperrors"
)

// fakePlatform is a minimal platform.Client stub: Bookmarks seeds the
// profile, Bookmark/Unbookmark/Follow are the reaction-mirror points a
// test can make fail, and every other method is a deterministic no-op.
type fakePlatform struct {
	bookmarks  []platform.Work
	mirrorErr  error
	bookmarked []int64
}

func (f *fakePlatform) RefreshAuth(ctx context.Context) error { return nil }
func (f *fakePlatform) SearchIllusts(ctx context.Context, tags []string, bookmarkThreshold, dateRangeDays, limit int) ([]platform.Work, error) {
	return nil, nil
}
func (f *fakePlatform) FetchFollowLatest(ctx context.Context, limit int) ([]platform.Work, error) {
	return nil, nil
}
func (f *fakePlatform) GetUserIllusts(ctx context.Context, authorID int64, since time.Time, limit int) ([]platform.Work, error) {
	return nil, nil
}
func (f *fakePlatform) GetRanking(ctx context.Context, mode string, limit int) ([]platform.Work, error) {
	return nil, nil
}
func (f *fakePlatform) Bookmarks(ctx context.Context, ownerID int64, includePrivate bool, scanLimit int) ([]platform.Work, error) {
	return f.bookmarks, nil
}
func (f *fakePlatform) Bookmark(ctx context.Context, workID int64) error {
	if f.mirrorErr != nil {
		return f.mirrorErr
	}
	f.bookmarked = append(f.bookmarked, workID)
	return nil
}
func (f *fakePlatform) Unbookmark(ctx context.Context, workID int64) error { return f.mirrorErr }
func (f *fakePlatform) Follow(ctx context.Context, authorID int64) error  { return f.mirrorErr }
func (f *fakePlatform) DownloadImage(ctx context.Context, url string) ([]byte, error) {
	return nil, nil
}
func (f *fakePlatform) Close() error { return nil }

var _ platform.Client = (*fakePlatform)(nil)

// fakeStrategy hands a fixed candidate list to the Fetcher.
type fakeStrategy struct {
	name  string
	works []platform.Work
}

func (s *fakeStrategy) Name() string { return s.name }
func (s *fakeStrategy) Produce(ctx context.Context, tags []fetcher.WeightedTag) ([]platform.Work, error) {
	return s.works, nil
}

// fakeNotifier records every Send call and reports a configurable subset
// as successfully sent.
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []int64
	fail     map[int64]bool
	texts    []string
	closed   bool
}

func (n *fakeNotifier) Send(ctx context.Context, works []platform.Work) ([]int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ok []int64
	for _, w := range works {
		if n.fail[w.ID] {
			continue
		}
		ok = append(ok, w.ID)
	}
	n.sent = append(n.sent, ok...)
	return ok, nil
}
func (n *fakeNotifier) SendText(ctx context.Context, text string, buttons []notifier.Button) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}
func (n *fakeNotifier) StartListening(ctx context.Context) error { <-ctx.Done(); return nil }
func (n *fakeNotifier) Close() error                             { n.closed = true; return nil }

var _ notifier.Notifier = (*fakeNotifier)(nil)

func newTestOrchestrator(t *testing.T, candidates []platform.Work, pc *fakePlatform) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	norm := normalizer.New(normalizer.Config{Model: "gpt-4o-mini"}, st)
	prof := profiler.New(profiler.Config{
		OwnerID:            1,
		ScanLimit:          500,
		DecayTauDays:       180,
		LikeDelta:          0.05,
		DislikeDelta:       0.05,
		BlacklistThreshold: 3,
	}, st, pc, norm)

	fet := fetcher.New(&fakeStrategy{name: "search", works: candidates})
	filt := filter.New(filter.Config{
		FilterConfig: config.FilterConfig{
			DailyLimit:    50,
			MaxPerArtist:  50,
			R18Mode:       "mixed",
			MinCreateDays: 0,
		},
		MatchScore: config.MatchScoreConfig{MinThreshold: 0, WeightInSort: 0.5},
	}, st, norm)

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Cron: "0 */3 * * *", Coalesce: true},
	}

	return New(cfg, st, pc, prof, norm, fet, filt), st
}

// TestTickE2DedupAcrossTicks implements spec.md's E2 fixture: a work
// already in PushRecord is never re-sent, even though the fetch strategy
// surfaces it again.
func TestTickE2DedupAcrossTicks(t *testing.T) {
	ctx := context.Background()
	candidates := []platform.Work{
		{ID: 9001, Tags: nil, BookmarkCount: 5},
		{ID: 9002, Tags: nil, BookmarkCount: 5},
	}
	pc := &fakePlatform{}
	o, st := newTestOrchestrator(t, candidates, pc)

	require.NoError(t, st.MarkPushed(ctx, 9001, "search"))

	n := &fakeNotifier{}
	o.SetNotifiers(map[string]notifier.Notifier{"a": n})

	require.NoError(t, o.Tick(ctx))

	require.NotContains(t, n.sent, int64(9001))
	require.Contains(t, n.sent, int64(9002))

	for _, id := range []int64{9001, 9002} {
		pushed, err := st.IsPushed(ctx, id)
		require.NoError(t, err)
		require.True(t, pushed)
	}
}

// TestTickE5MultiChannelAtMostOnce implements spec.md's E5 fixture: two
// notifiers configured, one succeeds and one fails on the same work; the
// PushRecord still records exactly one push, and a second tick does not
// retry delivery anywhere (IsPushed already short-circuits the Filter).
func TestTickE5MultiChannelAtMostOnce(t *testing.T) {
	ctx := context.Background()
	candidates := []platform.Work{{ID: 7777, Tags: nil, BookmarkCount: 1}}
	pc := &fakePlatform{}
	o, st := newTestOrchestrator(t, candidates, pc)

	a := &fakeNotifier{}
	b := &fakeNotifier{fail: map[int64]bool{7777: true}}
	o.SetNotifiers(map[string]notifier.Notifier{"a": a, "b": b})

	require.NoError(t, o.Tick(ctx))

	require.Contains(t, a.sent, int64(7777))
	require.NotContains(t, b.sent, int64(7777))

	pushed, err := st.IsPushed(ctx, 7777)
	require.NoError(t, err)
	require.True(t, pushed)

	// Second tick: the fetch strategy still offers 7777, but it is now
	// filtered out as already-pushed before any notifier is touched.
	a.sent, b.sent = nil, nil
	require.NoError(t, o.Tick(ctx))
	require.Empty(t, a.sent)
	require.Empty(t, b.sent)
}

// TestOnReactionE6MirrorBestEffort implements spec.md's E6 fixture: a
// like on work 5555 records the reaction and adjusts weights locally
// first; the platform mirror call then fails with a TransientNetworkError,
// surfaced as a warning text to every notifier, without rolling back the
// already-committed local reaction.
func TestOnReactionE6MirrorBestEffort(t *testing.T) {
	ctx := context.Background()
	pc := &fakePlatform{mirrorErr: xperrors.NewTransientNetworkError("bookmark", errors.New("timeout"))}
	o, st := newTestOrchestrator(t, nil, pc)

	require.NoError(t, st.CacheWork(ctx, 5555, []string{"maid"}))
	require.NoError(t, st.ReplaceProfile(ctx, map[string]float64{"maid": 0.5}))

	n := &fakeNotifier{}
	o.SetNotifiers(map[string]notifier.Notifier{"a": n})

	o.OnReaction(ctx, notifier.Reaction{Kind: notifier.ReactionLike, WorkID: 5555, ChatUser: 1})

	require.NotEmpty(t, n.texts)
	require.Contains(t, n.texts[0], "could not mirror")

	profile, err := st.GetProfile(ctx)
	require.NoError(t, err)
	require.Greater(t, profile["maid"], 0.5)
}

// TestTickZeroCandidatesProducesZeroPushes is a boundary behavior from
// spec.md §8: a tick with no fetch candidates sends nothing and leaves
// push history untouched.
func TestTickZeroCandidatesProducesZeroPushes(t *testing.T) {
	ctx := context.Background()
	pc := &fakePlatform{}
	o, st := newTestOrchestrator(t, nil, pc)

	n := &fakeNotifier{}
	o.SetNotifiers(map[string]notifier.Notifier{"a": n})

	require.NoError(t, o.Tick(ctx))
	require.Empty(t, n.sent)

	stats, err := st.PushStats(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.PushCount)
}
