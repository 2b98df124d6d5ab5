// Package ratelimit provides per-tool token-bucket admission control.
//
// Invariants:
// - Tokens never exceed a bucket's capacity.
// - Refill is lazy, monotonic, and idempotent under concurrent reads.
// - Queue-mode waiters are admitted in strict arrival order.
// - Cancelled waiters leave the queue without consuming a token.
//
// Usage:
//
//	limiter := ratelimit.New()
//	limiter.Configure("web_search", registry.RateLimitPolicy{Capacity: 5, RefillRate: 1, Mode: registry.ModeReject})
//	if err := limiter.Acquire(ctx, "web_search"); err != nil {
//		// rate limited
//	}
package ratelimit
