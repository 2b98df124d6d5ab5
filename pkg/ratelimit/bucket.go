package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/batteryshark/agent-armory/pkg/registry"
)

// waiter is one parked caller in a queue-mode bucket.
type waiter struct {
	ch        chan struct{}
	admitted  bool
	cancelled bool
}

// bucket is a per-tool token bucket with an optional bounded FIFO of
// waiters. Refill is computed lazily on access.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mode       registry.RateLimitMode
	queueDepth int
	waiters    []*waiter
	pumping    bool
	now        func() time.Time
}

func newBucket(policy registry.RateLimitPolicy, now func() time.Time) *bucket {
	mode := policy.Mode
	if mode == "" {
		mode = registry.ModeReject
	}
	depth := policy.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	return &bucket{
		tokens:     policy.Capacity,
		capacity:   policy.Capacity,
		refillRate: policy.RefillRate,
		lastRefill: now(),
		mode:       mode,
		queueDepth: depth,
		now:        now,
	}
}

// refillLocked tops up tokens for elapsed time. Must be called with the
// bucket lock held. A clock that stands still or runs backwards leaves
// the bucket unchanged, so refill is idempotent under concurrent reads.
func (b *bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
}

// acquire consumes one token, parking the caller in queue mode. Callers
// never jump ahead of earlier waiters.
func (b *bucket) acquire(ctx context.Context) error {
	b.mu.Lock()
	b.refillLocked()

	if b.tokens >= 1 && len(b.waiters) == 0 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}

	if b.mode != registry.ModeQueue {
		b.mu.Unlock()
		return ErrRateLimitExceeded
	}

	if len(b.waiters) >= b.queueDepth {
		b.mu.Unlock()
		return fmt.Errorf("%w: queue full", ErrRateLimitExceeded)
	}

	w := &waiter{ch: make(chan struct{})}
	b.waiters = append(b.waiters, w)
	startPump := !b.pumping
	if startPump {
		b.pumping = true
	}
	b.mu.Unlock()

	if startPump {
		go b.pump()
	}

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		if w.admitted {
			// Admission raced the cancellation; hand the token back.
			b.tokens = math.Min(b.capacity, b.tokens+1)
			b.mu.Unlock()
			return ctx.Err()
		}
		w.cancelled = true
		b.removeWaiterLocked(w)
		b.mu.Unlock()
		return ctx.Err()
	}
}

func (b *bucket) removeWaiterLocked(target *waiter) {
	for i, w := range b.waiters {
		if w == target {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// pump admits the longest-waiting caller each time a token refills and
// exits once the queue drains. At most one pump runs per bucket.
func (b *bucket) pump() {
	for {
		b.mu.Lock()
		b.refillLocked()

		for b.tokens >= 1 && len(b.waiters) > 0 {
			w := b.waiters[0]
			b.waiters = b.waiters[1:]
			b.tokens--
			w.admitted = true
			close(w.ch)
		}

		if len(b.waiters) == 0 {
			b.pumping = false
			b.mu.Unlock()
			return
		}

		wait := nextTokenDelay(b.tokens, b.refillRate)
		b.mu.Unlock()

		time.Sleep(wait)
	}
}

func nextTokenDelay(tokens, rate float64) time.Duration {
	if rate <= 0 {
		return time.Second
	}
	need := 1 - tokens
	if need <= 0 {
		return time.Millisecond
	}
	d := time.Duration(need / rate * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// available returns the current token count after a lazy refill.
func (b *bucket) available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// waiting returns the number of parked callers.
func (b *bucket) waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
