package server

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/queue"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

const stateEventBuffer = 256

// StateEvent is published whenever a target's combined state changes
type StateEvent struct {
	Type     string              `json:"type"`
	TargetID uint16              `json:"target_id"`
	Old      nodes.CombinedState `json:"old"`
	New      nodes.CombinedState `json:"new"`
	OldName  string              `json:"old_state"`
	NewName  string              `json:"new_state"`
	Time     time.Time           `json:"time"`
}

// StatePublisher forwards state changes to the event queue. Changes are
// handed over from inside the state store, so publishing happens on a
// separate goroutine and a full buffer drops events.
type StatePublisher struct {
	pub     queue.Publisher
	prefix  string
	logger  *logging.Logger
	ch      chan StateEvent
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewStatePublisher starts the publishing goroutine
func NewStatePublisher(pub queue.Publisher, prefix string, logger *logging.Logger) *StatePublisher {
	if prefix == "" {
		prefix = utils.DefaultEventSubject
	}
	p := &StatePublisher{
		pub:    pub,
		prefix: prefix,
		logger: logger,
		ch:     make(chan StateEvent, stateEventBuffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Subject returns the subject events of targetID are published on
func (p *StatePublisher) Subject(targetID uint16) string {
	return p.prefix + ".state." + strconv.Itoa(int(targetID))
}

// OnChange is registered with the target state store
func (p *StatePublisher) OnChange(targetID uint16, old, cur nodes.CombinedState) {
	ev := StateEvent{
		Type:     "state",
		TargetID: targetID,
		Old:      old,
		New:      cur,
		OldName:  old.Reachability.String() + "/" + old.Consistency.String(),
		NewName:  cur.Reachability.String() + "/" + cur.Consistency.String(),
		Time:     time.Now().UTC(),
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full buffer
func (p *StatePublisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *StatePublisher) run() {
	defer p.wg.Done()
	for ev := range p.ch {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.Warn("Failed to encode state event", "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), utils.CoordinatorTimeout)
		subject := p.Subject(ev.TargetID)
		if err := p.pub.Publish(ctx, subject, data); err != nil {
			p.logger.Warn("Failed to publish state event", "subject", subject, "error", err)
		}
		cancel()
	}
}

// Close flushes pending events and stops the goroutine
func (p *StatePublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	p.wg.Wait()
}
