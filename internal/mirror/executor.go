package mirror

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metrics"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/session"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/transport"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

var (
	ErrSecondaryOffline = errors.New("secondary offline")
	ErrResultMismatch   = errors.New("secondary result differs from primary")
	ErrNoSecondaryState = errors.New("secondary state unknown")
)

// State of a request inside the executor
type State int32

const (
	StateNew State = iota
	StateNotMirrored
	StateExecuting
	StateForwardToSecondary
	StateNotifySecondaryACK
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNotMirrored:
		return "not-mirrored"
	case StateExecuting:
		return "executing"
	case StateForwardToSecondary:
		return "forward-to-secondary"
	case StateNotifySecondaryACK:
		return "notify-secondary-ack"
	case StateDone:
		return "done"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Request is one decoded client or peer request
type Request struct {
	Header wire.Header
	Op     Operation

	respond func(*wire.Frame)
	once    sync.Once
	state   atomic.Int32
}

// NewRequest wraps an operation. respond receives the client response
// exactly once and may be nil.
func NewRequest(hdr wire.Header, op Operation, respond func(*wire.Frame)) *Request {
	return &Request{Header: hdr, Op: op, respond: respond}
}

// Complete sends resp to the client unless a response already went out
func (r *Request) Complete(resp *wire.Frame) bool {
	first := false
	r.once.Do(func() {
		first = true
		if r.respond != nil {
			r.respond(resp)
		}
	})
	return first
}

// State returns the last state the request reached
func (r *Request) State() State {
	return State(r.state.Load())
}

func (r *Request) setState(s State) {
	r.state.Store(int32(s))
}

// Config holds executor timing
type Config struct {
	// RPCTimeout bounds forwarding including TryAgain retries
	RPCTimeout time.Duration
	// RetryInterval is the first delay after a TryAgain from the secondary
	RetryInterval time.Duration
}

// Deps wires an executor to one local target
type Deps struct {
	Config    Config
	Namespace *store.Namespace
	Sessions  *session.Store
	Locks     *LockStore
	Topology  *nodes.Topology
	Forwarder Forwarder
	Tracker   ResyncTracker
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Executor runs requests for one local target
type Executor struct {
	config    Config
	ns        *store.Namespace
	sessions  *session.Store
	locks     *LockStore
	topo      *nodes.Topology
	forwarder Forwarder
	tracker   ResyncTracker
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// NewExecutor creates an executor
func NewExecutor(d Deps) *Executor {
	if d.Config.RPCTimeout <= 0 {
		d.Config.RPCTimeout = utils.DefaultRPCTimeout
	}
	if d.Config.RetryInterval <= 0 {
		d.Config.RetryInterval = utils.DefaultRPCRetryInterval
	}
	if d.Locks == nil {
		d.Locks = NewLockStore()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	return &Executor{
		config:    d.Config,
		ns:        d.Namespace,
		sessions:  d.Sessions,
		locks:     d.Locks,
		topo:      d.Topology,
		forwarder: d.Forwarder,
		tracker:   d.Tracker,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// SetTracker attaches the resync side after construction
func (e *Executor) SetTracker(t ResyncTracker) {
	e.tracker = t
}

// Namespace returns the target's namespace
func (e *Executor) Namespace() *store.Namespace {
	return e.ns
}

// Sessions returns the target's session store
func (e *Executor) Sessions() *session.Store {
	return e.sessions
}

func (e *Executor) env(h wire.Header) *Env {
	return &Env{
		Namespace: e.ns,
		Sessions:  e.sessions,
		Header:    h,
		Logger:    e.logger,
		Secondary: h.IsBuddyMirrorSecond(),
	}
}

func reply(h wire.Header, res Result) *wire.Frame {
	resp := res.Response
	if resp == nil {
		resp = &wire.OpResponse{Result: int32(store.Internal)}
	}
	return wire.NewFrame(resp, wire.ReplyHeader(h))
}

// Process runs req through the mirroring state machine and returns the
// client response. The response is also delivered through req's respond
// callback, possibly earlier when the operation allows early completion.
func (e *Executor) Process(ctx context.Context, req *Request) *wire.Frame {
	start := time.Now()
	h := req.Header
	op := req.Op
	opName := h.Type.String()

	role := "primary"
	if h.IsBuddyMirrorSecond() {
		role = "secondary"
	}
	e.metrics.OpsProcessed.WithLabelValues(opName, role).Inc()
	defer func() {
		e.metrics.OpDuration.WithLabelValues(opName).Observe(time.Since(start).Seconds())
	}()

	if !op.IsMirrored() {
		req.setState(StateNotMirrored)
		resp := reply(h, op.ExecuteLocally(ctx, e.env(h)))
		req.Complete(resp)
		return resp
	}

	var slot *session.Slot
	if h.HasFlag(wire.FlagHasSequenceNumber) {
		sess := e.sessions.Reference(h.SessionID)
		defer e.sessions.Release(sess)

		if h.Sequence == 0 {
			e.metrics.Dedup.WithLabelValues("handshake").Inc()
			resp := wire.NewGenericFrame(h, wire.GenericNewSeqNoBase, "new sequence base", sess.BaseSequence())
			req.setState(StateDone)
			req.Complete(resp)
			return resp
		}

		s, isNew := sess.AcquireSlot(h.SequenceDone, h.Sequence, h.HasFlag(wire.FlagIsSelectiveAck))
		if !isNew {
			if cached, done := s.Response(); done {
				e.metrics.Dedup.WithLabelValues("replay").Inc()
				req.setState(StateDone)
				req.Complete(cached)
				return cached
			}
			e.metrics.Dedup.WithLabelValues("in_progress").Inc()
			resp := wire.NewGenericFrame(h, wire.GenericTryAgain, "same sequence already in progress", 0)
			req.Complete(resp)
			return resp
		}
		slot = s
	}

	req.setState(StateExecuting)
	release, err := e.locks.Acquire(ctx, op.Locks())
	if err != nil {
		if slot != nil {
			slot.Abandon()
		}
		resp := wire.NewGenericFrame(h, wire.GenericTryAgain, "interrupted while waiting for locks", 0)
		req.Complete(resp)
		return resp
	}

	res := op.ExecuteLocally(ctx, e.env(h))
	resp := reply(h, res)

	if !h.IsBuddyMirrorSecond() {
		if group, isPrimary, ok := e.topo.Groups.GroupOfTarget(h.TargetID); ok && isPrimary {
			e.registerChanges(ctx, group, res)

			if op.AllowsEarlyCompletion() {
				req.Complete(resp)
			}

			switch {
			case res.Changed:
				req.setState(StateForwardToSecondary)
				e.forward(ctx, h, group, op.ForwardEncode(), res)
			case h.HasFlag(wire.FlagHasSequenceNumber):
				req.setState(StateNotifySecondaryACK)
				e.forward(ctx, h, group, &AckNotify{Result: int32(res.Code())}, res)
			}
		}
	}

	if slot != nil {
		slot.Finish(resp)
	}
	release()

	req.setState(StateDone)
	req.Complete(resp)
	return resp
}

func (e *Executor) registerChanges(ctx context.Context, group nodes.MirrorGroup, res Result) {
	if !res.Changed || len(res.Changes) == 0 || e.tracker == nil {
		return
	}
	if !e.tracker.IsRegistering(group.ID) {
		return
	}
	if err := e.tracker.RegisterChanges(ctx, group.ID, res.Changes); err != nil {
		e.logger.Debug("Change not registered, resync no longer collecting",
			"group", group.ID, "changes", len(res.Changes), "error", err)
	}
}

// forward sends msg to the group's secondary and classifies the outcome.
// Failures never reach the client; they mark the secondary NeedsResync.
func (e *Executor) forward(ctx context.Context, h wire.Header, group nodes.MirrorGroup, msg wire.Message, res Result) {
	fh := h
	fh.Flags |= wire.FlagBuddyMirrorSecond
	fh.TargetID = group.Secondary
	frame := wire.NewFrame(msg, fh)

	registering := e.tracker != nil && e.tracker.IsRegistering(group.ID)

	st, known := e.topo.States.Get(group.Secondary)
	switch {
	case !known:
		e.secondaryFailed(ctx, group, registering, ErrNoSecondaryState)
		return
	case st.Reachability == nodes.Offline:
		e.secondaryOffline(ctx, group, registering)
		return
	case st.Consistency == nodes.Bad:
		e.metrics.Forwards.WithLabelValues("skipped").Inc()
		return
	case st.Consistency == nodes.NeedsResync && !registering:
		e.metrics.Forwards.WithLabelValues("skipped").Inc()
		return
	}

	replyFrame, err := e.call(ctx, group.ID, frame)
	if err != nil {
		if cur, ok := e.topo.States.Get(group.Secondary); ok && cur.Reachability == nodes.Offline {
			e.secondaryOffline(ctx, group, registering)
			return
		}
		e.secondaryFailed(ctx, group, registering, err)
		return
	}

	var remote wire.OpResponse
	if err := replyFrame.Decode(&remote); err != nil {
		e.secondaryFailed(ctx, group, registering, err)
		return
	}
	if remote.Result != int32(res.Code()) {
		e.secondaryFailed(ctx, group, registering, fmt.Errorf("%w: primary %s, secondary %s",
			ErrResultMismatch, res.Code(), store.Result(remote.Result)))
		return
	}

	if msg.MsgType() == wire.MsgAckNotify {
		e.metrics.Forwards.WithLabelValues("ack").Inc()
	} else {
		e.metrics.Forwards.WithLabelValues("ok").Inc()
	}
}

// call retries while the secondary answers TryAgain, bounded by the RPC timeout
func (e *Executor) call(ctx context.Context, groupID uint16, frame *wire.Frame) (*wire.Frame, error) {
	if e.forwarder == nil {
		return nil, transport.ErrCommunication
	}

	var replyFrame *wire.Frame
	operation := func() error {
		r, err := e.forwarder.CallMirrorSecondary(ctx, groupID, frame, wire.MsgOpResponse)
		if errors.Is(err, transport.ErrAgain) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		replyFrame = r
		return nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(e.config.RetryInterval),
		backoff.WithMaxElapsedTime(e.config.RPCTimeout),
	)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return replyFrame, nil
}

func (e *Executor) secondaryOffline(ctx context.Context, group nodes.MirrorGroup, registering bool) {
	e.metrics.Forwards.WithLabelValues("offline").Inc()
	e.logger.Debug("Secondary offline, skipping mirror",
		"group", group.ID, "secondary", group.Secondary)
	if !registering {
		e.markNeedsResync(ctx, group, ErrSecondaryOffline)
	}
}

// secondaryFailed handles a failed or diverging mirror. While a resync of
// the group collects changes, the job owns the outcome and the failure is
// dropped here.
func (e *Executor) secondaryFailed(ctx context.Context, group nodes.MirrorGroup, registering bool, cause error) {
	if registering {
		e.metrics.Forwards.WithLabelValues("dropped").Inc()
		e.logger.Debug("Mirror failure during resync, left to the resync job",
			"group", group.ID, "secondary", group.Secondary, "error", cause)
		return
	}
	e.metrics.Forwards.WithLabelValues("failed").Inc()
	e.logger.Warn("Mirroring to secondary failed, secondary needs resync",
		"group", group.ID, "secondary", group.Secondary, "error", cause)
	e.markNeedsResync(ctx, group, cause)
}

func (e *Executor) markNeedsResync(ctx context.Context, group nodes.MirrorGroup, cause error) {
	if e.topo.States.CompareAndSetConsistency(group.Secondary, nodes.Good, nodes.NeedsResync) {
		e.metrics.StateTransitions.WithLabelValues(nodes.NeedsResync.String()).Inc()
	}
	if e.tracker != nil {
		e.tracker.SecondaryMissedWrite(ctx, group.ID, cause)
	}
}
