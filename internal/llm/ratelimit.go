package llm

import (
	"context"
	"sync"
	"time"
)

// DefaultRequestsPerMinute is used when a provider sets no rate limit.
const DefaultRequestsPerMinute = 8

// RateLimiter implements token bucket rate limiting.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute calls with a
// burst of the same size.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		tokens:     requestsPerMinute,
		maxTokens:  requestsPerMinute,
		refillRate: time.Minute / time.Duration(requestsPerMinute),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve takes a token and returns 0, or returns how long to wait for the
// next refill.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.lastRefill); elapsed >= rl.refillRate {
		add := int(elapsed / rl.refillRate)
		rl.tokens += add
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = rl.lastRefill.Add(time.Duration(add) * rl.refillRate)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return 0
	}
	return rl.refillRate - now.Sub(rl.lastRefill)
}
