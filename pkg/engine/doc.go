// Package engine admits and runs tool executions through a strict
// lifecycle state machine.
//
// Invariants:
//   - Every submitted request reaches exactly one terminal state:
//     completed, failed, timed_out, or cancelled. Late handler returns
//     after a terminal transition are discarded and logged.
//   - Admission control (concurrency gates, then the rate limiter) runs
//     synchronously in the submitting goroutine, so rejection is an
//     error on Submit rather than an event.
//   - Execution deadlines start at admission. Time spent queued does
//     not burn the tool's budget.
//   - Cancellation transitions the record immediately. The handler
//     goroutine is signalled through its context but the state machine
//     never waits for it to notice.
//
// Usage:
//
//	eng := engine.New(engine.Config{Registry: reg, Limiter: lim, Publisher: pub, Logger: log})
//	rec, err := eng.Submit(ctx, engine.Request{ID: id, Tool: "web_search", SessionID: sid, Params: params})
//	if err == nil {
//		<-rec.Done()
//		snap := rec.Snapshot()
//		_ = snap
//	}
package engine
