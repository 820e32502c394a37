package resync

import (
	"context"
	"errors"
	"sync"
)

// ErrAbandoned is returned to waiters of a candidate dropped before it ran
var ErrAbandoned = errors.New("sync candidate abandoned")

// CandidateKind is the kind of work a candidate describes
type CandidateKind uint8

const (
	KindFile CandidateKind = iota
	KindDir
	KindMod
)

func (k CandidateKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindMod:
		return "mod"
	default:
		return "unknown"
	}
}

// Candidate is one unit of resync work. Whoever ends up owning it, a slave
// or an aborting job, must call Done, Fail or Abandon exactly once so that
// producers waiting on it are released.
type Candidate struct {
	Kind    CandidateKind
	EntryID string
	LogPos  uint64

	once      sync.Once
	done      chan struct{}
	err       error
	abandoned bool
}

// NewCandidate creates a pending candidate
func NewCandidate(kind CandidateKind, entryID string) *Candidate {
	return &Candidate{Kind: kind, EntryID: entryID, done: make(chan struct{})}
}

// Done marks the candidate synced
func (c *Candidate) Done() {
	c.once.Do(func() { close(c.done) })
}

// Fail marks the candidate processed with an error
func (c *Candidate) Fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Abandon releases waiters without the candidate having been processed
func (c *Candidate) Abandon() {
	c.once.Do(func() {
		c.abandoned = true
		c.err = ErrAbandoned
		close(c.done)
	})
}

// Finished reports whether a completion signal was given
func (c *Candidate) Finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Abandoned reports whether the candidate was dropped unprocessed
func (c *Candidate) Abandoned() bool {
	return c.Finished() && c.abandoned
}

// Wait blocks until the candidate completes and returns its error
func (c *Candidate) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
