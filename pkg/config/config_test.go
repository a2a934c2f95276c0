package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsMissingUserID(t *testing.T) {
	cfg := Defaults()
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pixiv.user_id")
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := Defaults()
	cfg.Pixiv.UserID = "42"
	cfg.Network.RequestsPerMinute = 0
	cfg.Profiler.TopN = 0
	cfg.Filter.R18Mode = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 3)
}

func TestValidateRejectsInvalidCronArity(t *testing.T) {
	cfg := Defaults()
	cfg.Pixiv.UserID = "42"
	cfg.Scheduler.Cron = "* * *"

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "scheduler.cron")
}

func TestValidatePassesOnDefaultsPlusUserID(t *testing.T) {
	cfg := Defaults()
	cfg.Pixiv.UserID = "12345"
	require.NoError(t, Validate(cfg))
}

func TestInitializeExpandsEnvAndMergesOverDefaults(t *testing.T) {
	t.Setenv("XP_TEST_TOKEN", "shhh")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pixiv:
  user_id: "99"
  refresh_token: "${XP_TEST_TOKEN}"
filter:
  daily_limit: 5
`), 0o644))

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "99", cfg.Pixiv.UserID)
	require.Equal(t, "shhh", cfg.Pixiv.RefreshToken)
	require.Equal(t, 5, cfg.Filter.DailyLimit)
	// untouched defaults survive the merge
	require.Equal(t, 60, cfg.Network.RequestsPerMinute)
	require.Equal(t, 20, cfg.Profiler.TopN)
}

func TestInitializeRejectsMissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pixiv: [this is not a map"), 0o644))

	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
}

func TestApplyTestOverridesZeroesThresholdsAndJitter(t *testing.T) {
	cfg := Defaults()
	ApplyTestOverrides(cfg)

	require.Equal(t, 10, cfg.Profiler.ScanLimit)
	require.Equal(t, 0.0, cfg.Profiler.DiscoveryRate)
	require.Equal(t, 0, cfg.Fetcher.BookmarkThreshold.Search)
	require.Equal(t, 0, cfg.Fetcher.BookmarkThreshold.Subscription)
	require.Equal(t, [2]float64{0, 0}, cfg.Network.RandomDelay)
}
