package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate runs every check against cfg, collecting every failure instead
// of stopping at the first one, matching the teacher's
// ValidateAll-collects-everything behavior.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if cfg.Pixiv.UserID == "" {
		errs = append(errs, NewValidationError("pixiv.user_id", ErrMissingRequiredField))
	}

	if cfg.Network.RequestsPerMinute <= 0 {
		errs = append(errs, NewValidationError("network.requests_per_minute", fmt.Errorf("%w: must be > 0", ErrInvalidValue)))
	}
	if cfg.Network.RandomDelay[0] < 0 || cfg.Network.RandomDelay[1] < cfg.Network.RandomDelay[0] {
		errs = append(errs, NewValidationError("network.random_delay", fmt.Errorf("%w: must be [min,max] with 0<=min<=max", ErrInvalidValue)))
	}
	if cfg.Network.MaxConcurrency <= 0 {
		errs = append(errs, NewValidationError("network.max_concurrency", fmt.Errorf("%w: must be > 0", ErrInvalidValue)))
	}

	if cfg.Profiler.TopN <= 0 {
		errs = append(errs, NewValidationError("profiler.top_n", fmt.Errorf("%w: must be > 0", ErrInvalidValue)))
	}
	if cfg.Profiler.DiscoveryRate < 0 || cfg.Profiler.DiscoveryRate > 1 {
		errs = append(errs, NewValidationError("profiler.discovery_rate", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue)))
	}
	if cfg.Profiler.DecayTauDays <= 0 {
		errs = append(errs, NewValidationError("profiler.decay_tau_days", fmt.Errorf("%w: must be > 0", ErrInvalidValue)))
	}
	if cfg.Profiler.BlacklistThreshold <= 0 {
		errs = append(errs, NewValidationError("profiler.blacklist_threshold", fmt.Errorf("%w: must be > 0", ErrInvalidValue)))
	}

	switch cfg.Filter.R18Mode {
	case "mixed", "safe", "r18_only":
	default:
		errs = append(errs, NewValidationError("filter.r18_mode", fmt.Errorf("%w: must be one of mixed, safe, r18_only", ErrInvalidValue)))
	}
	if cfg.Filter.DailyLimit < 0 {
		errs = append(errs, NewValidationError("filter.daily_limit", fmt.Errorf("%w: must be >= 0", ErrInvalidValue)))
	}
	if cfg.Filter.MaxPerArtist < 0 {
		errs = append(errs, NewValidationError("filter.max_per_artist", fmt.Errorf("%w: must be >= 0", ErrInvalidValue)))
	}

	if cfg.Notifier.LongPoll.Enabled && cfg.Notifier.LongPoll.TokenEnv == "" {
		errs = append(errs, NewValidationError("notifier.long_poll_bot.token_env", ErrMissingRequiredField))
	}
	if cfg.Notifier.WSBot.Enabled && cfg.Notifier.WSBot.URL == "" {
		errs = append(errs, NewValidationError("notifier.websocket_bot.url", ErrMissingRequiredField))
	}

	if cfg.Scheduler.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Scheduler.Cron); err != nil {
			errs = append(errs, NewValidationError("scheduler.cron", fmt.Errorf("%w: %v", ErrInvalidValue, err)))
		}
	}

	return errs.ErrOrNil()
}
