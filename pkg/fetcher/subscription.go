package fetcher

import (
	"context"
	"log/slog"

	"github.com/kzmtkz/xppusher/pkg/platform"
)

// SubscriptionConfig governs S-Subscription.
type SubscriptionConfig struct {
	FollowFeedLimit   int
	SubscribedArtists []int64
	PerArtistCap      int
	DateRangeDays     int
}

// SubscriptionStrategy is S-Subscription: follow-feed pull plus a
// manually configured author list, deduplicated against the feed.
type SubscriptionStrategy struct {
	cfg      SubscriptionConfig
	platform platform.Client
}

// NewSubscriptionStrategy builds S-Subscription.
func NewSubscriptionStrategy(cfg SubscriptionConfig, pc platform.Client) *SubscriptionStrategy {
	if cfg.FollowFeedLimit <= 0 {
		cfg.FollowFeedLimit = 100
	}
	if cfg.PerArtistCap <= 0 {
		cfg.PerArtistCap = 5
	}
	return &SubscriptionStrategy{cfg: cfg, platform: pc}
}

func (s *SubscriptionStrategy) Name() string { return "subscription" }

func (s *SubscriptionStrategy) Produce(ctx context.Context, _ []WeightedTag) ([]platform.Work, error) {
	seen := map[int64]struct{}{}
	var all []platform.Work

	feed, err := s.platform.FetchFollowLatest(ctx, s.cfg.FollowFeedLimit)
	if err != nil {
		slog.Error("follow feed fetch failed", "error", err)
	} else {
		for _, w := range feed {
			if _, dup := seen[w.ID]; dup {
				continue
			}
			seen[w.ID] = struct{}{}
			all = append(all, w)
		}
	}

	if len(s.cfg.SubscribedArtists) > 0 {
		cutoff := since(s.cfg.DateRangeDays)
		for _, artistID := range s.cfg.SubscribedArtists {
			works, err := s.platform.GetUserIllusts(ctx, artistID, cutoff, s.cfg.PerArtistCap)
			if err != nil {
				slog.Error("subscribed artist fetch failed", "author_id", artistID, "error", err)
				continue
			}
			for _, w := range works {
				if _, dup := seen[w.ID]; dup {
					continue
				}
				seen[w.ID] = struct{}{}
				all = append(all, w)
			}
		}
	}

	return all, nil
}
