package resync

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFinished is returned by Fetch once producers are done and the queue is empty
	ErrQueueFinished = errors.New("candidate queue finished")
	// ErrQueueClosed is returned after Close
	ErrQueueClosed = errors.New("candidate queue closed")
)

// CandidateQueue is a bounded FIFO shared by the gather slave and the
// bulk slaves. One mutex with two condition variables guards it.
type CandidateQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []*Candidate
	capacity int
	finished bool
	closed   bool
}

// NewCandidateQueue creates a queue holding at most capacity candidates
func NewCandidateQueue(capacity int) *CandidateQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &CandidateQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// wakeOnCancel makes blocked waiters re-check ctx once it is cancelled
func (q *CandidateQueue) wakeOnCancel(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
}

// Add appends c, blocking while the queue is full. A candidate that
// cannot be queued is abandoned.
func (q *CandidateQueue) Add(ctx context.Context, c *Candidate) error {
	stop := q.wakeOnCancel(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.closed && ctx.Err() == nil {
		q.notFull.Wait()
	}
	if q.closed {
		c.Abandon()
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		c.Abandon()
		return err
	}
	q.items = append(q.items, c)
	q.notEmpty.Signal()
	return nil
}

func (q *CandidateQueue) popLocked() *Candidate {
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.notFull.Signal()
	return c
}

// Fetch removes the oldest candidate, blocking while the queue is empty.
// It returns ErrQueueFinished when Finish was called and nothing is left.
func (q *CandidateQueue) Fetch(ctx context.Context) (*Candidate, error) {
	stop := q.wakeOnCancel(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.finished && !q.closed && ctx.Err() == nil {
		q.notEmpty.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.items) > 0 {
		return q.popLocked(), nil
	}
	if q.closed {
		return nil, ErrQueueClosed
	}
	return nil, ErrQueueFinished
}

// TryFetch removes the oldest candidate without blocking
func (q *CandidateQueue) TryFetch() (*Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

// Finish tells consumers that no more candidates will be added; they
// drain what is left and then stop
func (q *CandidateQueue) Finish() {
	q.mu.Lock()
	q.finished = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Drain abandons every queued candidate and wakes blocked producers.
// It returns the number of candidates dropped.
func (q *CandidateQueue) Drain() int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.notFull.Broadcast()
	q.mu.Unlock()

	for _, c := range items {
		c.Abandon()
	}
	return len(items)
}

// Close drains the queue and refuses further candidates
func (q *CandidateQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
	q.Drain()
}

// Len returns the number of queued candidates
func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
