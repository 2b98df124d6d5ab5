package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/batteryshark/agent-armory/pkg/registry"
	"github.com/rs/zerolog/log"
)

// ErrRateLimitExceeded is returned when a tool's bucket is exhausted and
// the caller cannot (or will not) wait.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

const defaultQueueDepth = 16

// Limiter holds one token bucket per tool. Acquire calls for the same
// tool serialize only around that tool's bucket; unrelated tools never
// contend.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a limiter using the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock creates a limiter with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     now,
	}
}

// Configure installs (or replaces) the bucket for a tool. A policy with
// no capacity or no refill rate means the tool is unlimited.
func (l *Limiter) Configure(tool string, policy registry.RateLimitPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if policy.Capacity <= 0 || policy.RefillRate <= 0 {
		delete(l.buckets, tool)
		return
	}

	l.buckets[tool] = newBucket(policy, l.now)
	log.Debug().
		Str("tool", tool).
		Float64("capacity", policy.Capacity).
		Float64("refill_rate", policy.RefillRate).
		Str("mode", string(policy.Mode)).
		Msg("Rate limit configured")
}

// Remove drops a tool's bucket.
func (l *Limiter) Remove(tool string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, tool)
}

// Acquire consumes one token for the tool, honoring its admission mode.
// Tools without a configured bucket are admitted immediately.
func (l *Limiter) Acquire(ctx context.Context, tool string) error {
	l.mu.RLock()
	b, ok := l.buckets[tool]
	l.mu.RUnlock()

	if !ok {
		return nil
	}
	return b.acquire(ctx)
}

// Tokens reports the current token count for a tool; unlimited tools
// report a negative count.
func (l *Limiter) Tokens(tool string) float64 {
	l.mu.RLock()
	b, ok := l.buckets[tool]
	l.mu.RUnlock()

	if !ok {
		return -1
	}
	return b.available()
}

// Waiting reports how many callers are parked in a tool's queue.
func (l *Limiter) Waiting(tool string) int {
	l.mu.RLock()
	b, ok := l.buckets[tool]
	l.mu.RUnlock()

	if !ok {
		return 0
	}
	return b.waiting()
}
