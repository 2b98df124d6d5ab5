package engine

import (
	"context"
	"sync"
)

// gate is a FIFO counting semaphore bounding concurrent executions. A
// capacity of zero or less means unbounded.
type gate struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}

func newGate(capacity int) *gate {
	return &gate{capacity: capacity}
}

// acquire blocks until a slot is free or ctx ends. Waiters are served
// in arrival order.
func (g *gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.capacity <= 0 {
		g.mu.Unlock()
		return nil
	}
	if g.inUse < g.capacity && len(g.waiters) == 0 {
		g.inUse++
		g.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ch {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The slot was handed over before cancellation won the race.
		g.release()
		return ctx.Err()
	}
}

// release frees a slot, handing it to the oldest waiter if one exists.
func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.capacity <= 0 {
		return
	}
	if len(g.waiters) > 0 {
		ch := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(ch)
		return
	}
	if g.inUse > 0 {
		g.inUse--
	}
}
