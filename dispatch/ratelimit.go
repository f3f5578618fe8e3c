package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goplan/orchestrator/orcherr"
)

// keyedLimiter enforces a flat per-key token-bucket ceiling, one bucket per
// rate-limit key. It keeps the token-bucket-with-wait shape of the
// teacher's AdaptiveRateLimiter but drops the AIMD backoff/probe adjustment
// and its cluster coordination: spec.md's rate_limit guardrail is a fixed
// ceiling per window, not an adaptive budget.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	grace    time.Duration
}

// newKeyedLimiter constructs a limiter bucketed by key, each replenishing at
// spec.Rate tokens/second up to spec.Burst tokens, waiting up to
// spec.Grace for a token before failing with RateLimited.
func newKeyedLimiter(spec RateLimitSpec) *keyedLimiter {
	grace := spec.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	burst := spec.Burst
	if burst <= 0 {
		burst = 1
	}
	return &keyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(spec.Rate),
		burst:    burst,
		grace:    grace,
	}
}

func (k *keyedLimiter) limiterFor(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.rate, k.burst)
		k.limiters[key] = l
	}
	return l
}

// wait blocks until a token for key is available, the grace period elapses
// (returning RateLimited), or ctx is cancelled.
func (k *keyedLimiter) wait(ctx context.Context, key string) error {
	l := k.limiterFor(key)
	if l.Allow() {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, k.grace)
	defer cancel()
	if err := l.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return orcherr.Newf(orcherr.RateLimited, "rate limit exceeded for key %q", key)
	}
	return nil
}
