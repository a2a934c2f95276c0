// Package ratelimit gates PlatformClient calls with a token bucket plus a
// post-acquire random jitter, and bounds image-download concurrency with
// a semaphore, matching spec.md §5.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate with the random post-acquire
// delay described in original_source/utils.py's AsyncRateLimiter.
type Limiter struct {
	bucket   *rate.Limiter
	jitterLo time.Duration
	jitterHi time.Duration
}

// New builds a Limiter allowing requestsPerMinute tokens per minute, with
// burst equal to one minute's worth of tokens, and a random
// [jitterLo,jitterHi] sleep after each acquisition.
func New(requestsPerMinute int, jitterLo, jitterHi float64) *Limiter {
	perSecond := float64(requestsPerMinute) / 60.0
	return &Limiter{
		bucket:   rate.NewLimiter(rate.Limit(perSecond), requestsPerMinute),
		jitterLo: time.Duration(jitterLo * float64(time.Second)),
		jitterHi: time.Duration(jitterHi * float64(time.Second)),
	}
}

// Acquire blocks until a token is available, then sleeps a random jitter
// duration in [jitterLo,jitterHi]. Honors ctx cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	delay := l.jitterLo
	if l.jitterHi > l.jitterLo {
		delay += time.Duration(rand.Int64N(int64(l.jitterHi - l.jitterLo)))
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DownloadGate bounds concurrent image downloads.
type DownloadGate struct {
	sem *semaphore.Weighted
}

// NewDownloadGate builds a gate allowing at most maxConcurrency
// simultaneous downloads.
func NewDownloadGate(maxConcurrency int) *DownloadGate {
	return &DownloadGate{sem: semaphore.NewWeighted(int64(maxConcurrency))}
}

// Acquire blocks until a download slot is free.
func (g *DownloadGate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a download slot.
func (g *DownloadGate) Release() {
	g.sem.Release(1)
}
