// Package redact masks bot tokens and refresh tokens out of log lines and
// error text before they reach slog or a chat transport, adapted from the
// teacher's pkg/masking regex-pattern approach (pre-compiled patterns,
// fail-open on any panic).
package redact

import "regexp"

// CompiledPattern mirrors the teacher's pattern shape: a name, a
// pre-compiled regex, and its replacement text.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

var patterns = []CompiledPattern{
	{
		Name:        "telegram_bot_token",
		Regex:       regexp.MustCompile(`\d{6,10}:[A-Za-z0-9_-]{30,40}`),
		Replacement: "***telegram-token***",
	},
	{
		Name:        "pixiv_refresh_token",
		Regex:       regexp.MustCompile(`(?i)(refresh_token["':=\s]+)[A-Za-z0-9_-]{20,}`),
		Replacement: "${1}***redacted***",
	},
	{
		Name:        "onebot_access_token",
		Regex:       regexp.MustCompile(`(?i)(access_token=)[A-Za-z0-9._-]+`),
		Replacement: "${1}***redacted***",
	},
	{
		Name:        "bearer_header",
		Regex:       regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9._-]+`),
		Replacement: "${1}***redacted***",
	},
}

// Redact runs every compiled pattern over s, returning the masked string.
// Must be defensive: a panicking regex replacement falls back to the
// original string rather than propagating, matching the teacher's
// "return original data on processing errors" contract.
func Redact(s string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = s
		}
	}()
	for _, p := range patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}
