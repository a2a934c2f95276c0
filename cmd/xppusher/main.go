// xppusher is a personalized recommendation daemon for an illustration
// platform: it builds a taste profile from bookmarks, discovers new
// candidate works, filters and ranks them against the profile, and
// pushes results through one or more chat notifiers, feeding reactions
// back into the profile. See spec.md for the full design.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kzmtkz/xppusher/pkg/cleanup"
	"github.com/kzmtkz/xppusher/pkg/config"
	"github.com/kzmtkz/xppusher/pkg/fetcher"
	"github.com/kzmtkz/xppusher/pkg/filter"
	"github.com/kzmtkz/xppusher/pkg/normalizer"
	"github.com/kzmtkz/xppusher/pkg/notifier"
	"github.com/kzmtkz/xppusher/pkg/notifier/article"
	"github.com/kzmtkz/xppusher/pkg/notifier/longpoll"
	"github.com/kzmtkz/xppusher/pkg/notifier/wsbot"
	"github.com/kzmtkz/xppusher/pkg/orchestrator"
	"github.com/kzmtkz/xppusher/pkg/platform"
	"github.com/kzmtkz/xppusher/pkg/profiler"
	"github.com/kzmtkz/xppusher/pkg/redact"
	"github.com/kzmtkz/xppusher/pkg/store"
	"github.com/kzmtkz/xppusher/pkg/version"
)

// exit codes per spec.md §6.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "run one tick and exit")
	now := flag.Bool("now", false, "run one tick immediately, then continue scheduled mode")
	resetXP := flag.Bool("reset-xp", false, "truncate profile/pair/raw-mapping/cleaner-error tables and exit")
	testMode := flag.Bool("test", false, "minimize scan size, discovery off, thresholds zero; forces --once")
	configPath := flag.String("config", "config.yaml", "configuration file path")
	flag.Parse()

	if *testMode {
		*once = true
	}

	_ = godotenv.Load()

	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: redactingReplaceAttr,
	})
	slog.SetDefault(slog.New(logHandler))
	slog.Info("starting", "version", version.Full())

	cfg, err := config.Initialize(context.Background(), *configPath)
	if err != nil {
		// Load/parse/validate failures are all operator-facing usage
		// errors per spec.md §6 (exit code 2).
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	if *testMode {
		config.ApplyTestOverrides(cfg)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("create data dir failed", "dir", cfg.DataDir, "error", err)
		return exitError
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "xppusher.db"))
	if err != nil {
		slog.Error("open store failed", "error", err)
		return exitError
	}
	defer st.Close()

	if *resetXP {
		if err := st.ResetProfile(context.Background()); err != nil {
			slog.Error("reset-xp failed", "error", err)
			return exitError
		}
		slog.Info("reset-xp complete")
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pc := platform.NewHTTPClient(platform.Config{
		RefreshToken:      cfg.Pixiv.RefreshToken,
		RequestsPerMinute: cfg.Network.RequestsPerMinute,
		JitterLo:          cfg.Network.RandomDelay[0],
		JitterHi:          cfg.Network.RandomDelay[1],
		MaxConcurrency:    cfg.Network.MaxConcurrency,
	})
	defer pc.Close()

	norm := normalizer.New(normalizer.Config{
		Endpoint:    cfg.Profiler.AI.Endpoint,
		APIKey:      cfg.Profiler.AI.Key,
		Model:       cfg.Profiler.AI.Model,
		BatchSize:   cfg.Profiler.AI.BatchSize,
		Concurrency: 4,
	}, st)

	ownerID, err := parseUserID(cfg.Pixiv.UserID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	prof := profiler.New(profiler.Config{
		OwnerID:            ownerID,
		IncludePrivate:     cfg.Profiler.IncludePrivate,
		ScanLimit:          cfg.Profiler.ScanLimit,
		StopWords:          cfg.Profiler.StopWords,
		TopN:               cfg.Profiler.TopN,
		DecayTauDays:       cfg.Profiler.DecayTauDays,
		LikeDelta:          cfg.Profiler.LikeDelta,
		DislikeDelta:       cfg.Profiler.DislikeDelta,
		BlacklistThreshold: cfg.Profiler.BlacklistThreshold,
	}, st, pc, norm)

	searchStrategy := fetcher.NewSearchStrategy(fetcher.SearchConfig{
		BaseThreshold:  cfg.Fetcher.BookmarkThreshold.Search,
		DateRangeDays:  cfg.Fetcher.DateRangeDays,
		Limit:          cfg.Fetcher.DiscoveryLimit,
		DiscoveryRate:  cfg.Profiler.DiscoveryRate,
		PairSliceLimit: 30,
	}, st, pc)

	subStrategy := fetcher.NewSubscriptionStrategy(fetcher.SubscriptionConfig{
		SubscribedArtists: cfg.Fetcher.SubscribedArtists,
		DateRangeDays:     cfg.Fetcher.DateRangeDays,
	}, pc)

	strategies := []fetcher.Strategy{searchStrategy, subStrategy}
	if cfg.Fetcher.Ranking.Enabled {
		strategies = append(strategies, fetcher.NewRankingStrategy(fetcher.RankingConfig{
			Enabled: cfg.Fetcher.Ranking.Enabled,
			Modes:   cfg.Fetcher.Ranking.Modes,
			Limit:   cfg.Fetcher.Ranking.Limit,
		}, pc))
	}
	fet := fetcher.New(strategies...)

	filt := filter.New(filter.Config{
		FilterConfig:       cfg.Filter,
		MatchScore:         cfg.Fetcher.MatchScore,
		BlacklistThreshold: cfg.Profiler.BlacklistThreshold,
	}, st, norm)

	orch := orchestrator.New(cfg, st, pc, prof, norm, fet, filt)

	notifiers := map[string]notifier.Notifier{}
	publisher := article.NewHTTPPublisher(cfg.Notifier.Article.Endpoint, os.Getenv(cfg.Notifier.Article.TokenEnv))

	if cfg.Notifier.LongPoll.Enabled {
		lp, err := longpoll.New(longpoll.Config{
			Token:         os.Getenv(cfg.Notifier.LongPoll.TokenEnv),
			ChatID:        cfg.Notifier.LongPoll.ChatID,
			AllowList:     cfg.Notifier.LongPoll.AllowList,
			BatchMode:     cfg.Notifier.LongPoll.BatchMode,
			MultiPage:     cfg.Notifier.LongPoll.MultiPage,
			MaxPages:      cfg.Notifier.LongPoll.MaxPages,
			ImageMaxPx:    cfg.Notifier.LongPoll.ImageMaxPx,
			Quality:       cfg.Notifier.LongPoll.Quality,
			MessageMapCap: cfg.Notifier.MessageMapCap,
		}, pc, publisher, orch.OnReaction, orch.OnAdmin)
		if err != nil {
			slog.Error("long-poll-bot init failed", "error", err)
			return exitError
		}
		notifiers["long-poll-bot"] = lp
	}

	if cfg.Notifier.WSBot.Enabled {
		notifiers["websocket-bot"] = wsbot.New(wsbot.Config{
			URL:           cfg.Notifier.WSBot.URL,
			AccessToken:   cfg.Notifier.WSBot.AccessToken,
			RecipientID:   cfg.Notifier.WSBot.RecipientID,
			AllowList:     cfg.Notifier.WSBot.AllowList,
			BatchMode:     cfg.Notifier.WSBot.BatchMode,
			MultiPage:     cfg.Notifier.WSBot.MultiPage,
			MaxPages:      cfg.Notifier.WSBot.MaxPages,
			ImageMaxPx:    cfg.Notifier.WSBot.ImageMaxPx,
			Quality:       cfg.Notifier.WSBot.Quality,
			ProxyURL:      cfg.Notifier.WSBot.ProxyURL,
			MessageMapCap: cfg.Notifier.MessageMapCap,
		}, pc, publisher, orch.OnReaction, orch.OnAdmin)
	}
	orch.SetNotifiers(notifiers)

	cleaner := cleanup.NewService(cleanup.Config{Interval: time.Hour}, st)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	if err := orch.Run(ctx, *once, *now); err != nil {
		slog.Error("orchestrator run failed", "error", err)
		return exitError
	}
	return exitOK
}

// redactingReplaceAttr masks bot tokens and refresh tokens out of every
// string-valued log attribute, including error text, before it reaches
// stderr.
func redactingReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		a.Value = slog.StringValue(redact.Redact(a.Value.String()))
	} else if err, ok := a.Value.Any().(error); ok {
		a.Value = slog.StringValue(redact.Redact(err.Error()))
	}
	return a
}

func parseUserID(raw string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
		return 0, fmt.Errorf("pixiv.user_id must be numeric: %q", raw)
	}
	return id, nil
}
