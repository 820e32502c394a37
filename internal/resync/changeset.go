package resync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/wal"
)

// ErrChangesetInactive is returned to producers once the job stopped collecting
var ErrChangesetInactive = errors.New("resync changeset not active")

// Changeset records live changes made while a resync job runs. Records
// go to a write-ahead log so they are replayed in the order they were
// applied. At most capacity records may be unread; producers wait for a
// slot until the reader catches up or the changeset is deactivated.
type Changeset struct {
	log      *wal.Log
	capacity int

	mu      sync.Mutex
	cond    *sync.Cond
	active  bool
	pending int
	waiters int
	readPos uint64
}

// OpenChangeset opens the log under dir and discards anything left from
// an earlier job
func OpenChangeset(dir string, capacity int) (*Changeset, error) {
	log, err := wal.Open(wal.Config{Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("open changeset log: %w", err)
	}
	if err := log.Reset(); err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("reset changeset log: %w", err)
	}
	if capacity <= 0 {
		capacity = 1
	}
	cs := &Changeset{log: log, capacity: capacity, readPos: log.NextPosition()}
	cs.cond = sync.NewCond(&cs.mu)
	return cs, nil
}

// Activate drops records left by an earlier job and starts collecting
func (cs *Changeset) Activate() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.log.Reset(); err != nil {
		return fmt.Errorf("reset changeset log: %w", err)
	}
	cs.readPos = cs.log.NextPosition()
	cs.pending = 0
	cs.active = true
	return nil
}

// Deactivate stops collecting and releases every waiting producer
func (cs *Changeset) Deactivate() {
	cs.mu.Lock()
	cs.active = false
	cs.cond.Broadcast()
	cs.mu.Unlock()
}

// Active reports whether producers should register changes
func (cs *Changeset) Active() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.active
}

// Waiters returns the number of producers blocked on a full changeset
func (cs *Changeset) Waiters() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.waiters
}

// Pending returns the number of unread records
func (cs *Changeset) Pending() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pending
}

// Register appends changes in order, waiting while the changeset is full
func (cs *Changeset) Register(ctx context.Context, changes []store.Change) error {
	if len(changes) == 0 {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		cs.cond.Broadcast()
		cs.mu.Unlock()
	})
	defer stop()

	cs.mu.Lock()
	defer cs.mu.Unlock()

	// a batch larger than capacity is admitted into an empty changeset
	for cs.active && cs.pending > 0 && cs.pending+len(changes) > cs.capacity && ctx.Err() == nil {
		cs.waiters++
		cs.cond.Wait()
		cs.waiters--
	}
	if !cs.active {
		return ErrChangesetInactive
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range changes {
		if _, err := cs.log.Append(changes[i].MarshalBody()); err != nil {
			return fmt.Errorf("append change: %w", err)
		}
		cs.pending++
	}
	cs.cond.Broadcast()
	return nil
}

// LoggedChange is a change with its log position
type LoggedChange struct {
	store.Change
	Pos uint64
}

// Next returns up to max unread changes in log order and frees their slots
func (cs *Changeset) Next(max int) ([]LoggedChange, error) {
	cs.mu.Lock()
	from := cs.readPos
	cs.mu.Unlock()

	records, err := cs.log.ReadFrom(from, max)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	out := make([]LoggedChange, 0, len(records))
	for _, r := range records {
		var c store.Change
		if err := c.UnmarshalBody(r.Payload); err != nil {
			return nil, fmt.Errorf("decode change at %d: %w", r.Pos, err)
		}
		out = append(out, LoggedChange{Change: c, Pos: r.Pos})
	}

	cs.mu.Lock()
	cs.readPos = records[len(records)-1].Pos + 1
	cs.pending -= len(records)
	cs.cond.Broadcast()
	cs.mu.Unlock()
	return out, nil
}

// WaitPending blocks until there is something to read, the changeset is
// deactivated, or ctx ends
func (cs *Changeset) WaitPending(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		cs.cond.Broadcast()
		cs.mu.Unlock()
	})
	defer stop()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for cs.pending == 0 && cs.active && ctx.Err() == nil {
		cs.cond.Wait()
	}
	return cs.pending > 0
}

// Close closes the log
func (cs *Changeset) Close() error {
	cs.Deactivate()
	return cs.log.Close()
}
