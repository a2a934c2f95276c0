package config

import "time"

// Defaults returns a Config populated with every default named in
// spec.md §6, used as the mergo base that the user's YAML overrides.
func Defaults() *Config {
	return &Config{
		DataDir: "data",
		Network: NetworkConfig{
			RequestsPerMinute: 60,
			RandomDelay:       [2]float64{1.0, 3.0},
			MaxConcurrency:    5,
		},
		Profiler: ProfilerConfig{
			ScanLimit:          500,
			IncludePrivate:     true,
			TopN:               20,
			DiscoveryRate:      0.1,
			StopWords:          nil,
			DecayTauDays:       180,
			LikeDelta:          0.05,
			DislikeDelta:       0.05,
			BlacklistThreshold: 1,
			AI: AIConfig{
				Model:     "gpt-4o-mini",
				BatchSize: 40,
			},
		},
		Fetcher: FetcherConfig{
			BookmarkThreshold: BookmarkThreshold{Search: 1000, Subscription: 0},
			DateRangeDays:     7,
			DiscoveryLimit:    200,
			Ranking: RankingConfig{
				Enabled: false,
				Modes:   []string{"day"},
				Limit:   100,
			},
			MatchScore: MatchScoreConfig{
				MinThreshold: 0,
				WeightInSort: 0.7,
			},
		},
		Filter: FilterConfig{
			DailyLimit:    20,
			ExcludeAI:     true,
			MaxPerArtist:  3,
			ArtistBoost:   0.3,
			MinCreateDays: 0,
			R18Mode:       "mixed",
		},
		Notifier: NotifierConfig{
			MessageMapCap: 200,
			LongPoll: LongPollBackendConfig{
				MaxPages: 5,
				ImageMaxPx: 4096,
				Quality:    90,
			},
			WSBot: WSBotBackendConfig{
				MaxPages: 5,
				ImageMaxPx: 4096,
				Quality:    90,
			},
		},
		Scheduler: SchedulerConfig{
			Cron:     "0 */3 * * *",
			Coalesce: true,
		},
	}
}

// DefaultRetryConfig returns the shared backoff policy default.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// ApplyTestOverrides implements the CLI `--test` contract from spec.md
// §6: minimize scan size, discovery off, thresholds zero, deterministic
// jitter.
func ApplyTestOverrides(cfg *Config) {
	cfg.Profiler.ScanLimit = 10
	cfg.Profiler.DiscoveryRate = 0
	cfg.Fetcher.DiscoveryLimit = 10
	cfg.Fetcher.BookmarkThreshold = BookmarkThreshold{Search: 0, Subscription: 0}
	cfg.Fetcher.MatchScore.MinThreshold = 0
	cfg.Network.RandomDelay = [2]float64{0, 0}
}
