package executor

import (
	"context"
	"sync"
)

// DefaultMaxConcurrent is the number of reporting API calls allowed in flight.
const DefaultMaxConcurrent = 7

// Gate is a counting semaphore whose waiters form a stack: Release hands the
// freed slot to the most recently queued waiter.
type Gate struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters []chan struct{}
}

func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	return &Gate{limit: limit}
}

// Acquire blocks until a slot is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.active < g.limit && len(g.waiters) == 0 {
		g.active++
		g.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		g.mu.Unlock()
		return err
	}
	ready := make(chan struct{})
	g.waiters = append(g.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	g.mu.Lock()
	select {
	case <-ready:
		// The slot was handed over while we were giving up.
		g.mu.Unlock()
		g.Release()
	default:
		g.remove(ready)
		g.mu.Unlock()
	}
	return ctx.Err()
}

// Release frees a slot acquired with Acquire.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n := len(g.waiters); n > 0 {
		next := g.waiters[n-1]
		g.waiters = g.waiters[:n-1]
		close(next)
		return
	}
	if g.active == 0 {
		panic("executor: Release called without a matching Acquire")
	}
	g.active--
}

// InFlight returns the number of held slots.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Waiting returns the number of queued callers.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

func (g *Gate) remove(ready chan struct{}) {
	for i, w := range g.waiters {
		if w == ready {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}
