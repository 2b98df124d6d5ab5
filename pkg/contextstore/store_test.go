package contextstore

import (
	"sync"
	"testing"
	"time"

	"github.com/batteryshark/agent-armory/pkg/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturingPublisher) Publish(evt events.Event) events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return evt
}

func (p *capturingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event{}, p.events...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, clock *testClock, pub Publisher) *Store {
	t.Helper()
	return New(Config{
		TTL:       time.Minute,
		Publisher: pub,
		Clock:     clock.Now,
		Logger:    zerolog.Nop(),
	})
}

func TestStore_GetSetDelete(t *testing.T) {
	t.Run("should fail reads before first write", func(t *testing.T) {
		store := newTestStore(t, newTestClock(), nil)

		_, err := store.Get("s1", "k")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Equal(t, 0, store.SessionCount())
	})

	t.Run("should create session lazily on write", func(t *testing.T) {
		store := newTestStore(t, newTestClock(), nil)

		store.Set("s1", "k", "v")
		assert.Equal(t, 1, store.SessionCount())

		v, err := store.Get("s1", "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	})

	t.Run("should fail on missing key in a live session", func(t *testing.T) {
		store := newTestStore(t, newTestClock(), nil)
		store.Set("s1", "k", "v")

		_, err := store.Get("s1", "other")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("delete should be idempotent", func(t *testing.T) {
		store := newTestStore(t, newTestClock(), nil)
		store.Set("s1", "k", "v")

		store.Delete("s1", "k")
		store.Delete("s1", "k")
		store.Delete("unknown", "k")

		_, err := store.Get("s1", "k")
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestStore_SessionIsolation(t *testing.T) {
	store := newTestStore(t, newTestClock(), nil)

	store.Set("a", "k", "value-a")
	store.Set("b", "k", "value-b")

	va, err := store.Get("a", "k")
	require.NoError(t, err)
	vb, err := store.Get("b", "k")
	require.NoError(t, err)

	assert.Equal(t, "value-a", va)
	assert.Equal(t, "value-b", vb)

	// A key written only in one session is invisible to the other.
	store.Set("a", "only-a", true)
	_, err = store.Get("b", "only-a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStore_ChangeEvents(t *testing.T) {
	pub := &capturingPublisher{}
	store := newTestStore(t, newTestClock(), pub)

	store.Set("s1", "k", "v")
	store.Delete("s1", "k")
	// Deleting an already-absent key publishes nothing.
	store.Delete("s1", "k")

	evts := pub.all()
	require.Len(t, evts, 2)
	assert.Equal(t, events.KindContextChanged, evts[0].Kind)
	assert.Equal(t, "set", evts[0].Payload["op"])
	assert.Equal(t, "delete", evts[1].Payload["op"])
	assert.Equal(t, "s1", evts[0].SessionID)
}

func TestStore_ExpireSweep(t *testing.T) {
	t.Run("should evict only idle sessions", func(t *testing.T) {
		clock := newTestClock()
		evicted := []string{}
		store := New(Config{
			TTL:    time.Minute,
			Clock:  clock.Now,
			Logger: zerolog.Nop(),
			OnEvict: func(id string) {
				evicted = append(evicted, id)
			},
		})

		store.Set("idle", "k", "v")
		clock.Advance(2 * time.Minute)
		store.Set("fresh", "k", "v")

		n := store.ExpireSweep()
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"idle"}, evicted)

		_, err := store.Get("idle", "k")
		assert.ErrorIs(t, err, ErrSessionNotFound)

		v, err := store.Get("fresh", "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	})

	t.Run("reads should refresh last-accessed", func(t *testing.T) {
		clock := newTestClock()
		store := newTestStore(t, clock, nil)

		store.Set("s1", "k", "v")
		clock.Advance(45 * time.Second)

		_, err := store.Get("s1", "k")
		require.NoError(t, err)

		clock.Advance(45 * time.Second)
		assert.Equal(t, 0, store.ExpireSweep())
	})

	t.Run("should be safe under concurrent access", func(t *testing.T) {
		clock := newTestClock()
		store := newTestStore(t, clock, nil)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				id := string(rune('a' + n))
				for j := 0; j < 100; j++ {
					store.Set(id, "k", j)
					_, _ = store.Get(id, "k")
				}
			}(i)
		}
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					store.ExpireSweep()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 8, store.SessionCount())
	})
}

func TestStore_CloseSession(t *testing.T) {
	var closed []string
	store := New(Config{
		TTL:    time.Minute,
		Clock:  newTestClock().Now,
		Logger: zerolog.Nop(),
		OnEvict: func(id string) {
			closed = append(closed, id)
		},
	})

	store.Set("s1", "k", "v")
	store.CloseSession("s1")
	store.CloseSession("s1")

	assert.Equal(t, []string{"s1"}, closed)
	_, err := store.Get("s1", "k")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
