package wsbot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/notifier"
	"github.com/kzmtkz/xppusher/pkg/platform"
)

func sampleWork() platform.Work {
	return platform.Work{
		ID:            42,
		Title:         "Sunset Harbor",
		AuthorName:    "artist",
		Tags:          []string{"tag1", "tag2"},
		BookmarkCount: 10,
		PageCount:     1,
	}
}

func TestFormatCaptionIncludesReplyHint(t *testing.T) {
	w := sampleWork()
	caption := formatCaption(w)
	require.Contains(t, caption, "回复: 42 1=喜欢 2=不喜欢")
	require.Contains(t, caption, "#tag1")
	require.Contains(t, caption, w.Title)
}

func TestFormatCaptionMarksAdultWorks(t *testing.T) {
	w := sampleWork()
	w.IsAdult = true
	require.Contains(t, formatCaption(w), "🔞")
}

func TestFallbackProxyURLDefaultsWhenUnset(t *testing.T) {
	require.Equal(t, "https://i.pixiv.re/artworks/42", fallbackProxyURL("", 42))
}

func TestFallbackProxyURLUsesConfiguredBase(t *testing.T) {
	require.Equal(t, "https://proxy.example/artworks/42", fallbackProxyURL("https://proxy.example/", 42))
}

func TestParseCommandSplitsNameAndArgs(t *testing.T) {
	name, args := parseCommand("/stats week")
	require.Equal(t, "stats", name)
	require.Equal(t, []string{"week"}, args)
}

func TestParseCommandHandlesBareSlash(t *testing.T) {
	name, args := parseCommand("/")
	require.Equal(t, "", name)
	require.Nil(t, args)
}

func TestSenderUserIDReadsSenderBlock(t *testing.T) {
	data := map[string]any{"sender": map[string]any{"user_id": float64(555)}}
	require.Equal(t, int64(555), senderUserID(data))
}

func TestSenderUserIDFallsBackToTopLevel(t *testing.T) {
	data := map[string]any{"user_id": float64(777)}
	require.Equal(t, int64(777), senderUserID(data))
}

func TestHandleBatchReplyAppliesReactionToEveryStoredID(t *testing.T) {
	var got []notifier.Reaction
	b := New(Config{AllowList: []int64{9}}, nil, nil, func(_ context.Context, r notifier.Reaction) {
		got = append(got, r)
	}, nil)
	b.lastBatch = []int64{1, 2, 3}

	b.handleBatchReply(context.Background(), "1", 9)

	require.Len(t, got, 3)
	for _, r := range got {
		require.Equal(t, notifier.ReactionLike, r.Kind)
		require.Equal(t, int64(9), r.ChatUser)
	}
}

func TestHandleBatchReplyIgnoresUnknownCode(t *testing.T) {
	var called bool
	b := New(Config{}, nil, nil, func(_ context.Context, r notifier.Reaction) {
		called = true
	}, nil)
	b.lastBatch = []int64{1}

	b.handleBatchReply(context.Background(), "x", 1)

	require.False(t, called)
}
