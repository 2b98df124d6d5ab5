package events

import (
	"sync"
	"time"

	"github.com/batteryshark/agent-armory/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultBufferCapacity bounds per-session buffering while no subscriber
// is attached.
const DefaultBufferCapacity = 256

// Publisher assigns per-session sequence numbers and fans events out to
// at most one subscriber per session. Events published while no subscriber
// is attached are buffered up to a bounded capacity; overflow drops the
// oldest events and leaves an events_dropped marker in their place.
type Publisher struct {
	mu        sync.Mutex
	streams   map[string]*stream
	bufferCap int
	logger    zerolog.Logger
}

type stream struct {
	mu  sync.Mutex
	seq uint64
	buf []Event
	sub chan Event
}

// Subscription is a live attachment to one session's event stream.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel detaches delivery. It does not affect in-flight executions;
// subsequent events buffer until the session resubscribes.
func (s *Subscription) Cancel() {
	s.cancel()
}

// NewPublisher creates a publisher with the given per-session buffer
// capacity (<=0 selects DefaultBufferCapacity).
func NewPublisher(bufferCap int, logger zerolog.Logger) *Publisher {
	if bufferCap <= 0 {
		bufferCap = DefaultBufferCapacity
	}
	return &Publisher{
		streams:   make(map[string]*stream),
		bufferCap: bufferCap,
		logger:    logger,
	}
}

func (p *Publisher) stream(session string) *stream {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.streams[session]
	if !ok {
		st = &stream{}
		p.streams[session] = st
	}
	return st
}

// Publish stamps the event with the session's next sequence number and
// delivers or buffers it. The stamped event is returned.
func (p *Publisher) Publish(evt Event) Event {
	st := p.stream(evt.SessionID)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.seq++
	evt.Sequence = st.seq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	p.deliverLocked(st, evt)
	metrics.EventPublished(string(evt.Kind))
	return evt
}

// deliverLocked preserves order: any buffered backlog drains to the
// subscriber before the new event, and a slow subscriber pushes the new
// event onto the buffer instead of reordering.
func (p *Publisher) deliverLocked(st *stream, evt Event) {
	if st.sub != nil {
		p.drainLocked(st)
		if len(st.buf) == 0 {
			select {
			case st.sub <- evt:
				return
			default:
			}
		}
	}
	p.bufferLocked(st, evt)
}

func (p *Publisher) drainLocked(st *stream) {
	for len(st.buf) > 0 {
		select {
		case st.sub <- st.buf[0]:
			st.buf = st.buf[1:]
		default:
			return
		}
	}
}

func (p *Publisher) bufferLocked(st *stream, evt Event) {
	if len(st.buf) >= p.bufferCap {
		if st.buf[0].Kind == KindEventsDropped {
			// Merge the next casualty into the existing marker.
			dropped, _ := st.buf[0].Payload["dropped"].(int)
			st.buf[0].Payload["dropped"] = dropped + 1
			st.buf = append(st.buf[:1], st.buf[2:]...)
		} else {
			oldest := st.buf[0]
			st.buf[0] = Event{
				SessionID: oldest.SessionID,
				Sequence:  oldest.Sequence,
				Kind:      KindEventsDropped,
				Payload:   map[string]interface{}{"dropped": 1},
				Timestamp: time.Now(),
			}
		}
		metrics.EventsDropped(1)
		p.logger.Warn().
			Str("session_id", evt.SessionID).
			Uint64("sequence", evt.Sequence).
			Msg("Event buffer overflow, oldest event dropped")
	}
	st.buf = append(st.buf, evt)
}

// Subscribe attaches the session's single subscriber, replacing any
// previous attachment. Buffered events (including any events_dropped
// marker) are flushed to the new subscriber first, in order.
func (p *Publisher) Subscribe(session string) *Subscription {
	st := p.stream(session)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.sub != nil {
		close(st.sub)
		st.sub = nil
	}

	// One extra slot: a full buffer plus its events_dropped marker.
	ch := make(chan Event, p.bufferCap+1)
	for _, evt := range st.buf {
		ch <- evt
	}
	st.buf = nil
	st.sub = ch

	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.sub == ch {
			st.sub = nil
			close(ch)
		}
	}

	return &Subscription{C: ch, cancel: cancel}
}

// Sequence reports the last sequence number assigned for a session.
func (p *Publisher) Sequence(session string) uint64 {
	st := p.stream(session)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seq
}

// DropSession discards a session's stream state entirely. Used when the
// context store evicts an expired session.
func (p *Publisher) DropSession(session string) {
	p.mu.Lock()
	st, ok := p.streams[session]
	if ok {
		delete(p.streams, session)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	st.mu.Lock()
	if st.sub != nil {
		close(st.sub)
		st.sub = nil
	}
	st.buf = nil
	st.mu.Unlock()
}
