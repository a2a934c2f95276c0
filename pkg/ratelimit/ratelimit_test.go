package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterBoundsAcquisitions(t *testing.T) {
	const rpm = 600 // 10/sec, easy to measure quickly
	l := New(rpm, 0, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	count := 0
	for {
		if err := l.Acquire(ctx); err != nil {
			break
		}
		count++
		if time.Since(start) > 500*time.Millisecond {
			break
		}
	}
	elapsed := time.Since(start).Seconds()
	maxAllowed := (float64(rpm) / 60.0 * elapsed) + float64(rpm) + 1 // rate*W + burst, +1 slack
	require.LessOrEqual(t, float64(count), maxAllowed)
}

func TestDownloadGateBoundsConcurrency(t *testing.T) {
	gate := NewDownloadGate(2)
	ctx := context.Background()

	require.NoError(t, gate.Acquire(ctx))
	require.NoError(t, gate.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		_ = gate.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	gate.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have unblocked after release")
	}
}
