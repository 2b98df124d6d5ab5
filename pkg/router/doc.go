// Package router validates inbound protocol messages and dispatches
// them to the registry, execution engine, and context store.
//
// Invariants:
//   - A message that fails validation is rejected whole; no component
//     observes a partial effect.
//   - Internal errors map to a fixed set of protocol codes. Anything
//     unrecognized surfaces as an opaque INTERNAL_ERROR and is logged
//     server-side with full detail.
//   - Execute answers synchronously when the tool finishes within the
//     sync-wait bound; otherwise the response is an accepted ack and
//     the outcome arrives on the session's event stream.
package router
