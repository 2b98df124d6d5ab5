package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_OrderedDelivery(t *testing.T) {
	t.Run("should deliver all events in strictly increasing sequence", func(t *testing.T) {
		pub := NewPublisher(0, zerolog.Nop())
		sub := pub.Subscribe("session-a")
		defer sub.Cancel()

		const n = 50
		for i := 0; i < n; i++ {
			pub.Publish(Event{SessionID: "session-a", Kind: KindProgress})
		}

		var last uint64
		for i := 0; i < n; i++ {
			select {
			case evt := <-sub.C:
				assert.Greater(t, evt.Sequence, last)
				last = evt.Sequence
			case <-time.After(time.Second):
				t.Fatalf("missing event %d", i)
			}
		}
		assert.Equal(t, uint64(n), last)
	})

	t.Run("should scope sequences per session", func(t *testing.T) {
		pub := NewPublisher(0, zerolog.Nop())

		a := pub.Publish(Event{SessionID: "a", Kind: KindProgress})
		b := pub.Publish(Event{SessionID: "b", Kind: KindProgress})

		assert.Equal(t, uint64(1), a.Sequence)
		assert.Equal(t, uint64(1), b.Sequence)
	})

	t.Run("should stamp timestamps", func(t *testing.T) {
		pub := NewPublisher(0, zerolog.Nop())
		evt := pub.Publish(Event{SessionID: "a", Kind: KindCompleted})
		assert.False(t, evt.Timestamp.IsZero())
	})
}

func TestPublisher_BufferingWhileUnsubscribed(t *testing.T) {
	t.Run("should flush buffered events to a late subscriber in order", func(t *testing.T) {
		pub := NewPublisher(8, zerolog.Nop())

		for i := 0; i < 3; i++ {
			pub.Publish(Event{SessionID: "s", Kind: KindProgress})
		}

		sub := pub.Subscribe("s")
		defer sub.Cancel()

		for want := uint64(1); want <= 3; want++ {
			evt := <-sub.C
			assert.Equal(t, want, evt.Sequence)
		}
	})

	t.Run("should drop oldest and insert a marker on overflow", func(t *testing.T) {
		pub := NewPublisher(4, zerolog.Nop())

		for i := 0; i < 7; i++ {
			pub.Publish(Event{SessionID: "s", Kind: KindProgress})
		}

		sub := pub.Subscribe("s")
		defer sub.Cancel()

		first := <-sub.C
		require.Equal(t, KindEventsDropped, first.Kind)
		assert.Equal(t, 3, first.Payload["dropped"])

		// Remaining events keep their original sequence numbers, so the
		// subscriber can see exactly where the hole is.
		next := <-sub.C
		assert.Equal(t, KindProgress, next.Kind)
		assert.Greater(t, next.Sequence, first.Sequence)
	})
}

func TestPublisher_SubscriptionLifecycle(t *testing.T) {
	t.Run("cancel should detach delivery without losing later events", func(t *testing.T) {
		pub := NewPublisher(8, zerolog.Nop())

		sub := pub.Subscribe("s")
		pub.Publish(Event{SessionID: "s", Kind: KindProgress})
		<-sub.C
		sub.Cancel()

		// Published after detach: buffered, not lost.
		pub.Publish(Event{SessionID: "s", Kind: KindCompleted})

		resumed := pub.Subscribe("s")
		defer resumed.Cancel()
		evt := <-resumed.C
		assert.Equal(t, KindCompleted, evt.Kind)
		assert.Equal(t, uint64(2), evt.Sequence)
	})

	t.Run("resubscribing should close the previous channel", func(t *testing.T) {
		pub := NewPublisher(8, zerolog.Nop())

		old := pub.Subscribe("s")
		replacement := pub.Subscribe("s")
		defer replacement.Cancel()

		_, open := <-old.C
		assert.False(t, open)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		pub := NewPublisher(8, zerolog.Nop())
		sub := pub.Subscribe("s")
		sub.Cancel()
		sub.Cancel()
	})
}

func TestPublisher_DropSession(t *testing.T) {
	pub := NewPublisher(8, zerolog.Nop())
	sub := pub.Subscribe("s")
	pub.Publish(Event{SessionID: "s", Kind: KindProgress})
	<-sub.C

	pub.DropSession("s")
	_, open := <-sub.C
	assert.False(t, open)

	// A fresh stream starts its sequence over.
	evt := pub.Publish(Event{SessionID: "s", Kind: KindProgress})
	assert.Equal(t, uint64(1), evt.Sequence)
}
