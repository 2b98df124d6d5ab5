package events

import "time"

// Kind classifies an event on a session stream.
type Kind string

const (
	KindProgress       Kind = "progress"
	KindCompleted      Kind = "completed"
	KindFailed         Kind = "failed"
	KindContextChanged Kind = "context_changed"
	// KindEventsDropped marks a hole where buffered events were discarded
	// while no subscriber was attached.
	KindEventsDropped Kind = "events_dropped"
)

// Event is one entry on a session's ordered stream. Sequence numbers are
// scoped to the session and strictly increasing.
type Event struct {
	SessionID string                 `json:"session_id"`
	Sequence  uint64                 `json:"sequence"`
	Kind      Kind                   `json:"kind"`
	RequestID string                 `json:"request_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
