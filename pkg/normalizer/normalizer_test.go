package normalizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/store"
)

func TestNormalizeUsesCacheWithoutRemoteCall(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	cleaned := "maid"
	require.NoError(t, st.UpsertCleanCache(ctx, map[string]*string{
		"メイド":         &cleaned,
		"watermark_ad": nil,
	}))

	n := New(Config{Model: "gpt-4o-mini"}, st)

	result, err := n.Normalize(ctx, []string{"メイド", "watermark_ad"})
	require.NoError(t, err)
	require.Equal(t, []string{"maid"}, result.Clean)
	require.Equal(t, "maid", result.RawToCanonical["メイド"])
	_, filtered := result.RawToCanonical["watermark_ad"]
	require.False(t, filtered)
}

func TestNormalizeDedupesCanonicalForm(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	canonical := "blue archive"
	require.NoError(t, st.UpsertCleanCache(ctx, map[string]*string{
		"ブルーアーカイブ": &canonical,
		"ブルアカ":     &canonical,
	}))

	n := New(Config{Model: "gpt-4o-mini"}, st)
	result, err := n.Normalize(ctx, []string{"ブルーアーカイブ", "ブルアカ"})
	require.NoError(t, err)
	require.Equal(t, []string{"blue archive"}, result.Clean)
}
