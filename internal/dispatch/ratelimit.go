package dispatch

import (
	"context"
	"math"
	"sync"
	"time"
)

// tokenBucket bounds the sustained request rate across all workers of a run.
// Capacity equals the configured rate, so a burst is at most one second's
// worth of requests. Token state is recomputed under the lock on every
// acquisition attempt; waiting always happens outside the lock, and a woken
// worker re-derives the state rather than trusting what it saw before
// sleeping.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(qps float64) *tokenBucket {
	if qps <= 0 {
		return nil
	}
	return &tokenBucket{
		rate:       qps,
		capacity:   qps,
		tokens:     qps,
		lastRefill: time.Now(),
	}
}

// acquire blocks until one token is available, then debits it. A nil bucket
// admits immediately.
func (b *tokenBucket) acquire(ctx context.Context) error {
	if b == nil {
		return nil
	}
	for {
		b.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastRefill = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
		b.mu.Unlock()

		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
