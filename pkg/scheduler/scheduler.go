// Package scheduler wraps robfig/cron/v3 to drive the Orchestrator's
// periodic tick, matching spec.md §5's "5-field cron trigger."
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a single cron-triggered job, optionally coalescing
// overlapping fires (skipping a fire while the previous one is still
// running) instead of letting ticks pile up.
type Scheduler struct {
	cron     *cron.Cron
	coalesce bool

	mu      sync.Mutex
	running bool
}

// New builds a Scheduler for expr (standard 5-field cron syntax).
func New(expr string, coalesce bool, job func()) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, coalesce: coalesce}

	_, err := c.AddFunc(expr, func() {
		if s.coalesce {
			s.mu.Lock()
			if s.running {
				s.mu.Unlock()
				slog.Warn("scheduler: previous tick still running, skipping this fire")
				return
			}
			s.running = true
			s.mu.Unlock()
			defer func() {
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
			}()
		}
		job()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron scheduler's background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop blocks until the running job (if any) completes, then stops
// scheduling further ticks.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
