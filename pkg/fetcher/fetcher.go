// Package fetcher runs the multi-strategy candidate search described in
// spec.md §4.4: a profile-driven search, a subscription/follow-feed pull,
// and a ranking pull, fanned out concurrently and unioned by work-id.
package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kzmtkz/xppusher/pkg/platform"
)

// WeightedTag is one top-N profile entry.
type WeightedTag struct {
	Tag    string
	Weight float64 // normalized to [0,1], matching Profiler.Build's output
}

// Strategy is the capability every fetch strategy implements. Rather than
// an inheritance hierarchy, the Fetcher just holds a list of these and
// fans out, matching spec.md §7's "Strategy polymorphism" note.
type Strategy interface {
	Name() string
	Produce(ctx context.Context, tags []WeightedTag) ([]platform.Work, error)
}

// Fetcher dispatches every configured Strategy in parallel and unions the
// results, preserving first-seen insertion order.
type Fetcher struct {
	strategies []Strategy
}

// New builds a Fetcher over strategies.
func New(strategies ...Strategy) *Fetcher {
	return &Fetcher{strategies: strategies}
}

// Run fans out every strategy concurrently. Each strategy tolerates its
// own partial failure (logs and contributes whatever it produced);
// Run itself never returns an error.
func (f *Fetcher) Run(ctx context.Context, tags []WeightedTag) []platform.Work {
	works, _ := f.RunSourced(ctx, tags)
	return works
}

// sourcePriority ranks strategies for PushRecord source attribution when
// the same work-id surfaces from more than one strategy in the same
// tick, matching spec.md §4.7 step 6's tie rule: subscription > search >
// ranking (lower number wins).
var sourcePriority = map[string]int{
	"subscription": 0,
	"search":       1,
	"ranking":      2,
}

func priorityOf(name string) int {
	if p, ok := sourcePriority[name]; ok {
		return p
	}
	return len(sourcePriority)
}

// RunSourced is Run plus the work-id -> strategy-name attribution the
// Orchestrator needs to call MarkPushed(id, source) per spec.md §4.7.
func (f *Fetcher) RunSourced(ctx context.Context, tags []WeightedTag) ([]platform.Work, map[int64]string) {
	type result struct {
		name  string
		works []platform.Work
	}

	results := make(chan result, len(f.strategies))
	var wg sync.WaitGroup
	for _, s := range f.strategies {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			works, err := s.Produce(ctx, tags)
			if err != nil {
				slog.Error("fetch strategy failed", "strategy", s.Name(), "error", err)
			}
			results <- result{name: s.Name(), works: works}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	seen := make(map[int64]struct{})
	sourceOf := make(map[int64]string)
	var union []platform.Work
	for r := range results {
		slog.Info("fetch strategy complete", "strategy", r.name, "count", len(r.works))
		for _, w := range r.works {
			if existing, dup := sourceOf[w.ID]; dup {
				if priorityOf(r.name) < priorityOf(existing) {
					sourceOf[w.ID] = r.name
				}
			} else {
				sourceOf[w.ID] = r.name
			}
			if _, dup := seen[w.ID]; dup {
				continue
			}
			seen[w.ID] = struct{}{}
			union = append(union, w)
		}
	}
	return union, sourceOf
}

// adaptiveThreshold resolves spec.md §4.4's single specified formula:
// threshold = max(100, base * max(0.3, normalized_weight) * comboFactor).
// The source's second, tag-count-based formula is redundant and dropped.
func adaptiveThreshold(base int, normalizedWeight float64, isCombination bool) int {
	multiplier := normalizedWeight
	if multiplier < 0.3 {
		multiplier = 0.3
	}
	if isCombination {
		multiplier *= 0.5
	}
	threshold := int(float64(base) * multiplier)
	if threshold < 100 {
		threshold = 100
	}
	return threshold
}

func since(days int) time.Time {
	return time.Now().AddDate(0, 0, -days)
}
