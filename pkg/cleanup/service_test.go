package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRunAllPrunesExpiredMutes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.MuteTag(ctx, "expired-tag", time.Now().Add(-time.Hour)))
	require.NoError(t, st.MuteTag(ctx, "active-tag", time.Now().Add(time.Hour)))

	svc := NewService(Config{Interval: time.Minute}, st)
	svc.runAll(ctx)

	active, err := st.ActiveMutes(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "active-tag", active[0].Tag)
}

func TestStartStopIsIdempotentAndGraceful(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(Config{Interval: time.Millisecond}, st)

	svc.Start(context.Background())
	svc.Start(context.Background()) // second call is a no-op
	time.Sleep(5 * time.Millisecond)
	svc.Stop()
	svc.Stop() // second call is a no-op
}
