// Package contextstore keeps session-scoped key/value state with TTL
// eviction.
//
// Invariants:
// - Keys written in one session are never visible to another session.
// - Sessions are created lazily on first write, never on read.
// - Locking is per session; sweeping one session never blocks another.
//
// Usage:
//
//	store := contextstore.New(contextstore.Config{TTL: 30 * time.Minute, Publisher: pub})
//	store.Set("session-1", "cursor", 42)
//	v, _ := store.Get("session-1", "cursor")
//	_ = v
package contextstore
