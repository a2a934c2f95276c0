// Package config loads and validates xppusher's YAML configuration,
// following the teacher's env-expand + mergo-defaults + collect-all-errors
// approach.
package config

import "time"

// Config is the fully resolved, validated configuration for one run of
// the daemon.
type Config struct {
	Pixiv    PixivConfig    `yaml:"pixiv"`
	Network  NetworkConfig  `yaml:"network"`
	Profiler ProfilerConfig `yaml:"profiler"`
	Fetcher  FetcherConfig  `yaml:"fetcher"`
	Filter   FilterConfig   `yaml:"filter"`
	Notifier NotifierConfig `yaml:"notifier"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// DataDir holds the embedded database file, defaulting to "data".
	DataDir string `yaml:"data_dir"`
}

// PixivConfig holds platform credentials. UserID is required.
type PixivConfig struct {
	UserID       string `yaml:"user_id"`
	RefreshToken string `yaml:"refresh_token"`
}

// NetworkConfig governs the rate limiter and download concurrency gate.
type NetworkConfig struct {
	RequestsPerMinute int       `yaml:"requests_per_minute"`
	RandomDelay       [2]float64 `yaml:"random_delay"`
	MaxConcurrency    int       `yaml:"max_concurrency"`
}

// AIConfig configures the remote tag-cleaner endpoint.
type AIConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// ProfilerConfig governs taste-profile construction.
type ProfilerConfig struct {
	ScanLimit      int      `yaml:"scan_limit"`
	IncludePrivate bool     `yaml:"include_private"`
	TopN           int      `yaml:"top_n"`
	DiscoveryRate  float64  `yaml:"discovery_rate"`
	StopWords      []string `yaml:"stop_words"`
	AI             AIConfig `yaml:"ai"`

	// DecayTauDays is the Open-Question resolution for bookmark-age decay:
	// weight *= exp(-age_days / DecayTauDays).
	DecayTauDays float64 `yaml:"decay_tau_days"`

	// LikeDelta / DislikeDelta are the additive weight adjustments applied
	// per tag on a reaction.
	LikeDelta    float64 `yaml:"like_delta"`
	DislikeDelta float64 `yaml:"dislike_delta"`

	// BlacklistThreshold is the dislike count at which a tag becomes
	// effectively blacklisted.
	BlacklistThreshold int `yaml:"blacklist_threshold"`
}

// BookmarkThreshold holds the two base popularity floors per spec.md §4.4.
type BookmarkThreshold struct {
	Search       int `yaml:"search"`
	Subscription int `yaml:"subscription"`
}

// RankingConfig governs the S-Ranking strategy.
type RankingConfig struct {
	Enabled bool     `yaml:"enabled"`
	Modes   []string `yaml:"modes"`
	Limit   int      `yaml:"limit"`
}

// MatchScoreConfig governs the Filter's scoring/sort behavior.
type MatchScoreConfig struct {
	MinThreshold  float64 `yaml:"min_threshold"`
	WeightInSort  float64 `yaml:"weight_in_sort"`
}

// FetcherConfig governs the multi-strategy candidate fetcher.
type FetcherConfig struct {
	BookmarkThreshold  BookmarkThreshold `yaml:"bookmark_threshold"`
	DateRangeDays      int               `yaml:"date_range_days"`
	SubscribedArtists  []int64           `yaml:"subscribed_artists"`
	DiscoveryLimit     int               `yaml:"discovery_limit"`
	Ranking            RankingConfig     `yaml:"ranking"`
	MatchScore         MatchScoreConfig  `yaml:"match_score"`
}

// FilterConfig governs dedup/quota/scoring.
type FilterConfig struct {
	BlacklistTags  []string `yaml:"blacklist_tags"`
	BlockedAuthors []int64  `yaml:"blocked_authors"`
	DailyLimit     int      `yaml:"daily_limit"`
	ExcludeAI      bool     `yaml:"exclude_ai"`
	MaxPerArtist   int      `yaml:"max_per_artist"`
	ArtistBoost    float64  `yaml:"artist_boost"`
	MinCreateDays  int      `yaml:"min_create_days"`
	// R18Mode is one of "mixed", "safe", "r18_only".
	R18Mode string `yaml:"r18_mode"`
}

// LongPollBackendConfig configures the telegram-bot-api style backend.
type LongPollBackendConfig struct {
	Enabled     bool    `yaml:"enabled"`
	TokenEnv    string  `yaml:"token_env"`
	ChatID      int64   `yaml:"chat_id"`
	AllowList   []int64 `yaml:"allow_list"`
	BatchMode   bool    `yaml:"batch_mode"`
	MultiPage   bool    `yaml:"multi_page"`
	MaxPages    int     `yaml:"max_pages"`
	ImageMaxPx  int     `yaml:"image_max_size"`
	Quality     int     `yaml:"quality"`
}

// WSBotBackendConfig configures the OneBot-v11-style reverse-websocket
// backend.
type WSBotBackendConfig struct {
	Enabled     bool    `yaml:"enabled"`
	URL         string  `yaml:"url"`
	AccessToken string  `yaml:"access_token"`
	RecipientID int64   `yaml:"recipient_id"`
	AllowList   []int64 `yaml:"allow_list"`
	BatchMode   bool    `yaml:"batch_mode"`
	MultiPage   bool    `yaml:"multi_page"`
	MaxPages    int     `yaml:"max_pages"`
	ImageMaxPx  int     `yaml:"image_max_size"`
	Quality     int     `yaml:"quality"`
	ProxyURL    string  `yaml:"proxy_url"`
}

// ArticleConfig configures the instant-article gallery export used for
// batch-mode pushes.
type ArticleConfig struct {
	Endpoint string `yaml:"endpoint"`
	TokenEnv string `yaml:"token_env"`
}

// NotifierConfig collects every configured chat backend.
type NotifierConfig struct {
	Types    []string              `yaml:"types"`
	LongPoll LongPollBackendConfig `yaml:"long_poll_bot"`
	WSBot    WSBotBackendConfig    `yaml:"websocket_bot"`
	Article  ArticleConfig         `yaml:"article"`
	// MessageMapCap bounds each notifier's message-id -> work-id map.
	MessageMapCap int `yaml:"message_map_cap"`
}

// SchedulerConfig governs the cron trigger.
type SchedulerConfig struct {
	Cron     string `yaml:"cron"`
	Coalesce bool   `yaml:"coalesce"`
}

// RetryConfig governs the shared backoff policy used by PlatformClient,
// TagNormalizer, and Notifier sends.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}
