package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/mirror"
	"github.com/ThinkParQ/beegfs-sub011/internal/ops"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/transport"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
	"github.com/ThinkParQ/beegfs-sub011/internal/worker"
)

var _ transport.Dispatcher = (*Node)(nil)

// Dispatch answers one peer or client frame. Operations run on a worker
// pool through the target's executor; resync frames are applied directly.
func (n *Node) Dispatch(ctx context.Context, req *wire.Frame) (*wire.Frame, error) {
	h := req.Header
	switch {
	case h.Type.IsResync():
		return n.receiver.Handle(ctx, req)
	case ops.IsOperation(h.Type):
		return n.dispatchOperation(ctx, req)
	}
	return nil, fmt.Errorf("%w: %s", wire.ErrUnexpectedType, h.Type)
}

func (n *Node) dispatchOperation(ctx context.Context, req *wire.Frame) (*wire.Frame, error) {
	h := req.Header
	t, ok := n.targets[h.TargetID]
	if !ok {
		n.logger.Debug("Operation for unknown target", "target", h.TargetID, "type", h.Type.String())
		return wire.NewFrame(&wire.OpResponse{Result: int32(store.NotFound)}, wire.ReplyHeader(h)), nil
	}

	op, err := ops.Decode(req)
	if err != nil {
		return nil, err
	}

	// buffered so the executor never blocks on a caller that went away
	done := make(chan *wire.Frame, 1)
	r := mirror.NewRequest(h, op, func(resp *wire.Frame) { done <- resp })

	pool := n.clients
	if h.IsBuddyMirrorSecond() {
		pool = n.mirrors
	}

	// The task outlives this call when the response leaves early, so it
	// runs on the pool's context rather than the request's.
	err = pool.Submit(ctx, func(poolCtx context.Context) {
		taskCtx := logging.WithSessionID(poolCtx, h.SessionID)
		t.Executor.Process(taskCtx, r)
	})
	if err != nil {
		if errors.Is(err, worker.ErrPoolStopped) {
			return wire.NewGenericFrame(h, wire.GenericTryAgain, "server shutting down", 0), nil
		}
		return nil, err
	}

	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
