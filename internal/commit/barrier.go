/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package commit

import (
	"context"
	"sync"
	"time"
)

// Barrier is a single-use rendezvous for a fixed number of parties. The
// party count is chosen per transition. A barrier of zero or one party is
// released from the start.
type Barrier struct {
	mu      sync.Mutex
	parties int
	arrived int
	done    chan struct{}
}

// NewBarrier creates a barrier that releases once parties arrivals have been
// recorded.
func NewBarrier(parties int) *Barrier {
	if parties < 0 {
		parties = 0
	}
	b := &Barrier{parties: parties, done: make(chan struct{})}
	if parties <= 1 {
		close(b.done)
	}
	return b
}

// Arrive records one arrival. Arrivals after release are ignored.
func (b *Barrier) Arrive() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	b.arrived++
	if b.arrived >= b.parties {
		close(b.done)
	}
}

// Arrived returns the number of arrivals recorded so far.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Parties returns the party count the barrier was created with.
func (b *Barrier) Parties() int {
	return b.parties
}

// Done is closed when the barrier releases.
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the barrier releases, the timeout elapses or ctx is
// done. It reports whether the barrier released. A non-positive timeout
// waits on ctx alone.
func (b *Barrier) Wait(ctx context.Context, timeout time.Duration) bool {
	select {
	case <-b.done:
		return true
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-b.done:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

// ArriveAndWait records the caller's arrival and then waits as Wait does.
func (b *Barrier) ArriveAndWait(ctx context.Context, timeout time.Duration) bool {
	b.Arrive()
	return b.Wait(ctx, timeout)
}

// Arrival is the handle a participant uses to register at the barrier. Only
// the first Arrive call counts.
type Arrival struct {
	barrier *Barrier
	once    sync.Once
}

func newArrival(b *Barrier) *Arrival {
	return &Arrival{barrier: b}
}

// Arrive registers the participant at the barrier. Safe to call from any
// goroutine, any number of times.
func (a *Arrival) Arrive() {
	a.once.Do(a.barrier.Arrive)
}
