package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactMasksTelegramToken(t *testing.T) {
	in := "bot token is 123456789:AAFakeTokenValueForTestingOnly123456"
	out := Redact(in)
	require.Contains(t, out, "***telegram-token***")
	require.NotContains(t, out, "AAFakeTokenValueForTestingOnly123456")
}

func TestRedactMasksRefreshToken(t *testing.T) {
	in := `refresh_token: "abcdefghijklmnopqrstuvwxyz0123"`
	out := Redact(in)
	require.Contains(t, out, "***redacted***")
	require.NotContains(t, out, "abcdefghijklmnopqrstuvwxyz0123")
}

func TestRedactLeavesUnmatchedTextAlone(t *testing.T) {
	in := "scheduler tick completed, 5 works pushed"
	require.Equal(t, in, Redact(in))
}
