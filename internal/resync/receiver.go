package resync

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metrics"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/session"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// Receiver applies resync messages on the secondary
type Receiver struct {
	states  *nodes.TargetStateStore
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu      sync.RWMutex
	targets map[uint16]receiverTarget
}

type receiverTarget struct {
	ns       *store.Namespace
	sessions *session.Store
}

// NewReceiver creates a receiver without targets
func NewReceiver(states *nodes.TargetStateStore, m *metrics.Metrics, logger *logging.Logger) *Receiver {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Receiver{
		states:  states,
		metrics: m,
		logger:  logger,
		targets: make(map[uint16]receiverTarget),
	}
}

// AddTarget makes a local target accept resync messages
func (r *Receiver) AddTarget(id uint16, ns *store.Namespace, sessions *session.Store) {
	r.mu.Lock()
	r.targets[id] = receiverTarget{ns: ns, sessions: sessions}
	r.mu.Unlock()
}

func (r *Receiver) target(id uint16) (receiverTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

func reply(req *wire.Frame, res store.Result) *wire.Frame {
	return wire.NewFrame(&wire.OpResponse{Result: int32(res)}, wire.ReplyHeader(req.Header))
}

// Handle applies one resync frame addressed to a local target
func (r *Receiver) Handle(ctx context.Context, f *wire.Frame) (*wire.Frame, error) {
	if f.Header.Type == wire.MsgSetConsistencyState {
		var msg wire.SetConsistencyState
		if err := f.Decode(&msg); err != nil {
			return nil, err
		}
		state := nodes.ConsistencyState(msg.State)
		if r.states.SetConsistency(msg.TargetID, state) {
			r.metrics.StateTransitions.WithLabelValues(state.String()).Inc()
		}
		r.logger.Info("Consistency state set by primary", "target", msg.TargetID, "state", state.String())
		return reply(f, store.OK), nil
	}

	t, ok := r.target(f.Header.TargetID)
	if !ok {
		return reply(f, store.NotFound), nil
	}

	switch f.Header.Type {
	case wire.MsgResyncStart:
		var msg wire.ResyncStart
		if err := f.Decode(&msg); err != nil {
			return nil, err
		}
		r.logger.Info("Resync from primary started",
			"target", f.Header.TargetID, "group", msg.GroupID, "job", msg.JobID, "since", msg.Since)
		return reply(f, store.OK), nil

	case wire.MsgResyncEntry:
		var msg wire.ResyncEntry
		if err := f.Decode(&msg); err != nil {
			return nil, err
		}
		return reply(f, r.applyEntry(t.ns, &msg)), nil

	case wire.MsgResyncDirListing:
		var msg wire.ResyncDirListing
		if err := f.Decode(&msg); err != nil {
			return nil, err
		}
		return reply(f, r.applyListing(t.ns, &msg)), nil

	case wire.MsgResyncSessions:
		var msg wire.ResyncSessions
		if err := f.Decode(&msg); err != nil {
			return nil, err
		}
		t.sessions.Import(msg.Sessions)
		r.logger.Debug("Session store replaced by primary", "target", f.Header.TargetID, "sessions", len(msg.Sessions))
		return reply(f, store.OK), nil
	}
	return nil, fmt.Errorf("%w: %s is not a resync message", wire.ErrUnexpectedType, f.Header.Type)
}

func (r *Receiver) applyEntry(ns *store.Namespace, msg *wire.ResyncEntry) store.Result {
	if msg.Remove {
		// already gone is what the primary wants
		if res := ns.Delete(msg.Entry.ID); res != store.NotFound {
			return res
		}
		return store.OK
	}

	var data []byte
	if !msg.Entry.IsDir {
		var err error
		if data, err = store.JoinSparse(msg.Entry.Size, msg.Chunks); err != nil {
			r.logger.Warn("Rejecting resync entry", "entry", msg.Entry.ID, "error", err)
			return store.Invalid
		}
	}
	return ns.Put(store.EntryFromRecord(msg.Entry, data))
}

// applyListing removes children the primary does not have
func (r *Receiver) applyListing(ns *store.Namespace, msg *wire.ResyncDirListing) store.Result {
	if _, ok := ns.Get(msg.DirID); !ok {
		return store.NotFound
	}
	keep := make(map[string]bool, len(msg.Names))
	for _, n := range msg.Names {
		keep[n] = true
	}
	for _, c := range ns.Children(msg.DirID) {
		if keep[c.Name] {
			continue
		}
		if res := ns.Delete(c.ID); res != store.OK && res != store.NotFound {
			return res
		}
	}
	return store.OK
}
