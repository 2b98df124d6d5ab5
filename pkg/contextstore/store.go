package contextstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/batteryshark/agent-armory/internal/metrics"
	"github.com/batteryshark/agent-armory/pkg/events"
	"github.com/rs/zerolog"
)

var (
	// ErrKeyNotFound is returned when a session has no value for a key.
	ErrKeyNotFound = errors.New("context key not found")
	// ErrSessionNotFound is returned for reads against a session that has
	// never been written. Sessions are created lazily on first write.
	ErrSessionNotFound = errors.New("context session not found")
)

// DefaultTTL evicts sessions idle longer than this unless configured.
const DefaultTTL = 30 * time.Minute

// Publisher receives context_changed events for session subscribers.
type Publisher interface {
	Publish(evt events.Event) events.Event
}

// session holds one isolation boundary's key/value state. Each session
// has its own lock so a sweep of one session never blocks another.
type session struct {
	mu           sync.Mutex
	values       map[string]interface{}
	createdAt    time.Time
	lastAccessed time.Time
}

// Config configures a Store.
type Config struct {
	TTL       time.Duration
	Publisher Publisher
	// OnEvict is invoked (outside any lock) for each session removed by
	// an expiry sweep or an explicit close.
	OnEvict func(sessionID string)
	Clock   func() time.Time
	Logger  zerolog.Logger
}

// Store is a session-scoped key/value store with TTL-based reclamation.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	ttl       time.Duration
	publisher Publisher
	onEvict   func(string)
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a Store.
func New(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{
		sessions:  make(map[string]*session),
		ttl:       cfg.TTL,
		publisher: cfg.Publisher,
		onEvict:   cfg.OnEvict,
		now:       cfg.Clock,
		logger:    cfg.Logger,
	}
}

// Get returns the value for key in the given session. Reading a session
// that has never been written fails with ErrSessionNotFound; a missing
// key in a live session fails with ErrKeyNotFound.
func (s *Store) Get(sessionID, key string) (interface{}, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.lastAccessed = s.now()
	value, ok := sess.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return value, nil
}

// Set upserts key in the session, creating the session on first write,
// and publishes a context_changed event for the session's subscriber.
func (s *Store) Set(sessionID, key string, value interface{}) {
	sess := s.ensureSession(sessionID)

	sess.mu.Lock()
	sess.lastAccessed = s.now()
	sess.values[key] = value
	sess.mu.Unlock()

	s.publishChange(sessionID, key, "set")
}

// Delete removes key from the session. Deleting an absent key or an
// absent session is a no-op.
func (s *Store) Delete(sessionID, key string) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return
	}

	sess.mu.Lock()
	sess.lastAccessed = s.now()
	_, existed := sess.values[key]
	delete(sess.values, key)
	sess.mu.Unlock()

	if existed {
		s.publishChange(sessionID, key, "delete")
	}
}

// Keys returns the keys currently set in a session.
func (s *Store) Keys(sessionID string) []string {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	keys := make([]string, 0, len(sess.values))
	for k := range sess.values {
		keys = append(keys, k)
	}
	return keys
}

// CloseSession removes a session and its state immediately.
func (s *Store) CloseSession(sessionID string) {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return
	}

	metrics.SetActiveSessions(count)
	if s.onEvict != nil {
		s.onEvict(sessionID)
	}
}

// SessionCount returns the number of live sessions.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ExpireSweep evicts sessions idle past the TTL and returns how many
// were removed. Expiry checks take only one session's lock at a time, so
// a sweep never blocks access to unexpired sessions.
func (s *Store) ExpireSweep() int {
	now := s.now()

	s.mu.RLock()
	candidates := make(map[string]*session, len(s.sessions))
	for id, sess := range s.sessions {
		candidates[id] = sess
	}
	s.mu.RUnlock()

	expired := []string{}
	for id, sess := range candidates {
		sess.mu.Lock()
		idle := now.Sub(sess.lastAccessed)
		sess.mu.Unlock()

		if idle > s.ttl {
			expired = append(expired, id)
		}
	}

	evicted := []string{}
	s.mu.Lock()
	for _, id := range expired {
		sess, ok := s.sessions[id]
		if !ok {
			continue
		}
		// Re-check under the session lock; an access may have raced the
		// first pass.
		sess.mu.Lock()
		idle := now.Sub(sess.lastAccessed)
		sess.mu.Unlock()
		if idle > s.ttl {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	metrics.SetActiveSessions(count)
	metrics.RecordSweep(len(evicted))

	for _, id := range evicted {
		s.logger.Debug().Str("session_id", id).Msg("Context session expired")
		if s.onEvict != nil {
			s.onEvict(id)
		}
	}

	return len(evicted)
}

func (s *Store) ensureSession(sessionID string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok = s.sessions[sessionID]; ok {
		return sess
	}

	now := s.now()
	sess = &session{
		values:       make(map[string]interface{}),
		createdAt:    now,
		lastAccessed: now,
	}
	s.sessions[sessionID] = sess
	metrics.SetActiveSessions(len(s.sessions))
	s.logger.Debug().Str("session_id", sessionID).Msg("Context session created")
	return sess
}

func (s *Store) publishChange(sessionID, key, op string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.Event{
		SessionID: sessionID,
		Kind:      events.KindContextChanged,
		Payload: map[string]interface{}{
			"key": key,
			"op":  op,
		},
	})
}
