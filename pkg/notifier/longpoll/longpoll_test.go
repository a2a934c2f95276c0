package longpoll

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kzmtkz/xppusher/pkg/platform"
)

func sampleWork() platform.Work {
	return platform.Work{
		ID:         42,
		Title:      "Sunset Harbor",
		AuthorID:   7,
		AuthorName: "artist",
		Tags:       []string{"tag one", "tag2", "tag3", "tag4", "tag5", "tag6"},
		ViewCount:  100,
		PageCount:  1,
	}
}

func TestFormatCaptionTruncatesToFiveTagsAndUnderscoresSpaces(t *testing.T) {
	caption := formatCaption(sampleWork())
	require.Contains(t, caption, "#tag_one")
	require.Contains(t, caption, "#tag5")
	require.NotContains(t, caption, "#tag6")
}

func TestFormatCaptionMarksAdultWorks(t *testing.T) {
	w := sampleWork()
	w.IsAdult = true
	require.Contains(t, formatCaption(w), "🔞")
}

func TestFormatCaptionIncludesMatchScoreWhenSet(t *testing.T) {
	w := sampleWork()
	score := 0.75
	w.MatchScore = &score
	require.Contains(t, formatCaption(w), "75%")
}

func TestFormatCaptionPrefersDisplayTagsOverRawTags(t *testing.T) {
	w := sampleWork()
	w.DisplayTags = []string{"canonical"}
	caption := formatCaption(w)
	require.Contains(t, caption, "#canonical")
	require.NotContains(t, caption, "#tag_one")
}

func TestParseCommandSplitsNameAndArgs(t *testing.T) {
	name, args := parseCommand("/mute watermark 24")
	require.Equal(t, "mute", name)
	require.Equal(t, []string{"watermark", "24"}, args)
}

func TestParseCommandHandlesBareSlash(t *testing.T) {
	name, args := parseCommand("/")
	require.Equal(t, "", name)
	require.Nil(t, args)
}

func TestFallbackProxyURLUsesPixivRe(t *testing.T) {
	require.Equal(t, "https://i.pixiv.re/artworks/42", fallbackProxyURL(42))
}

func TestWorkURLPointsAtPixivArtworks(t *testing.T) {
	require.Equal(t, "https://www.pixiv.net/artworks/42", workURL(42))
}

func TestFeedbackKeyboardCarriesLikeDislikeFollowButtons(t *testing.T) {
	kb := feedbackKeyboard(sampleWork())
	require.Len(t, kb.InlineKeyboard, 2)
	require.Equal(t, "like:42", *kb.InlineKeyboard[0][0].CallbackData)
	require.Equal(t, "dislike:42", *kb.InlineKeyboard[0][1].CallbackData)
	require.Equal(t, "follow:7", *kb.InlineKeyboard[1][0].CallbackData)
}
