package worker

import (
	"context"
	"sync/atomic"
)

// Barrier is a single-use countdown barrier. It opens once every party
// has called Arrive.
type Barrier struct {
	remaining atomic.Int32
	done      chan struct{}
}

// NewBarrier creates a barrier for parties participants
func NewBarrier(parties int) *Barrier {
	b := &Barrier{done: make(chan struct{})}
	b.remaining.Store(int32(parties))
	if parties <= 0 {
		close(b.done)
	}
	return b
}

// Arrive counts one party in. Extra arrivals are ignored.
func (b *Barrier) Arrive() {
	if b.remaining.Add(-1) == 0 {
		close(b.done)
	}
}

// Wait blocks until all parties arrived or ctx ends
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the barrier opens
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}
