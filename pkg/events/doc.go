// Package events delivers ordered, session-scoped event streams.
//
// Invariants:
// - Sequence numbers are monotonic per session with no gaps for a
//   continuously-attached subscriber.
// - Buffering while unsubscribed is bounded; loss is always signaled by
//   an events_dropped marker, never a silent gap.
// - Unsubscribing detaches delivery only; it never cancels work.
//
// Usage:
//
//	pub := events.NewPublisher(0, logger)
//	sub := pub.Subscribe("session-1")
//	defer sub.Cancel()
//	pub.Publish(events.Event{SessionID: "session-1", Kind: events.KindProgress})
//	evt := <-sub.C
//	_ = evt
package events
