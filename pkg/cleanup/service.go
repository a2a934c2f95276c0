// Package cleanup provides background data-retention maintenance: pruning
// expired tag mutes so the store doesn't grow unbounded across
// long-running deployments.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/kzmtkz/xppusher/pkg/store"
)

// Config governs the retention interval.
type Config struct {
	Interval time.Duration
}

// Service periodically enforces retention policies. Currently this is
// limited to deleting TagMute rows past their expiry; all operations are
// idempotent and safe to run repeatedly.
type Service struct {
	cfg   Config
	store *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg Config, st *store.Store) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Service{cfg: cfg, store: st}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started", "interval", s.cfg.Interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.pruneExpiredMutes(ctx)
}

func (s *Service) pruneExpiredMutes(ctx context.Context) {
	count, err := s.store.PruneExpiredMutes(ctx, time.Now())
	if err != nil {
		slog.Error("retention: prune expired mutes failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: pruned expired tag mutes", "count", count)
	}
}
