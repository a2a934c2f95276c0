package fetcher

import (
	"context"
	"log/slog"

	"github.com/kzmtkz/xppusher/pkg/platform"
)

// RankingConfig governs S-Ranking.
type RankingConfig struct {
	Enabled bool
	Modes   []string
	Limit   int
}

// RankingStrategy is S-Ranking: pulls configured ranking modes, dividing
// the limit equally among modes.
type RankingStrategy struct {
	cfg      RankingConfig
	platform platform.Client
}

// NewRankingStrategy builds S-Ranking.
func NewRankingStrategy(cfg RankingConfig, pc platform.Client) *RankingStrategy {
	return &RankingStrategy{cfg: cfg, platform: pc}
}

func (s *RankingStrategy) Name() string { return "ranking" }

func (s *RankingStrategy) Produce(ctx context.Context, _ []WeightedTag) ([]platform.Work, error) {
	if !s.cfg.Enabled || len(s.cfg.Modes) == 0 {
		return nil, nil
	}

	perMode := s.cfg.Limit / len(s.cfg.Modes)
	if perMode <= 0 {
		perMode = 1
	}

	var all []platform.Work
	for _, mode := range s.cfg.Modes {
		works, err := s.platform.GetRanking(ctx, mode, perMode)
		if err != nil {
			slog.Error("ranking fetch failed", "mode", mode, "error", err)
			continue
		}
		all = append(all, works...)
	}
	return all, nil
}
