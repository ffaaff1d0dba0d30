package nuki

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultRequestDelay is the minimum gap between two bridge requests.
const DefaultRequestDelay = 250 * time.Millisecond

// RateGate serialises requests in arrival order and keeps a minimum gap
// between the settle of one request and the start of the next.
type RateGate struct {
	sem      *semaphore.Weighted
	interval time.Duration

	mu      sync.Mutex
	settled time.Time
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRateGate creates a gate. A zero interval only serialises.
func NewRateGate(interval time.Duration) *RateGate {
	return &RateGate{
		sem:      semaphore.NewWeighted(1),
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Do waits for the gate, runs fn and records its settle time. Waiters are
// admitted first in, first out.
func (g *RateGate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	g.mu.Lock()
	var wait time.Duration
	if !g.settled.IsZero() {
		wait = g.interval - g.now().Sub(g.settled)
	}
	g.mu.Unlock()
	if wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}

	err := fn()

	g.mu.Lock()
	g.settled = g.now()
	g.mu.Unlock()
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
