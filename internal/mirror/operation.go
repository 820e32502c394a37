package mirror

import (
	"context"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/session"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// Env is what an operation may touch while executing locally
type Env struct {
	Namespace *store.Namespace
	Sessions  *session.Store
	Header    wire.Header
	Logger    *logging.Logger

	// Secondary is set when executing a forwarded copy
	Secondary bool
}

// Result of a local execution
type Result struct {
	Response *wire.OpResponse

	// Changed reports an observable state change. Unchanged results are
	// acknowledged to the secondary instead of forwarded.
	Changed bool

	// Changes lists the entries to re-send if the secondary misses this
	Changes []store.Change
}

// Code returns the store result code of the response
func (r Result) Code() store.Result {
	if r.Response == nil {
		return store.Internal
	}
	return store.Result(r.Response.Result)
}

// Fail builds an unchanged result carrying code
func Fail(code store.Result) Result {
	return Result{Response: &wire.OpResponse{Result: int32(code)}}
}

// Operation is one request kind
type Operation interface {
	wire.Message

	// IsMirrored is false for read-only operations, which take the fast path
	IsMirrored() bool

	// Locks lists the exclusive locks held while executing and forwarding
	Locks() LockSpec

	// ExecuteLocally applies the operation to this replica
	ExecuteLocally(ctx context.Context, env *Env) Result

	// ForwardEncode returns the message sent to the secondary. It is
	// called after ExecuteLocally so ids assigned by the primary travel along.
	ForwardEncode() wire.Message

	// AllowsEarlyCompletion lets the client response leave before forwarding
	AllowsEarlyCompletion() bool
}

// ResyncTracker is the live path's view of buddy resync jobs
type ResyncTracker interface {
	// IsRegistering reports whether a job for the group collects changes
	IsRegistering(groupID uint16) bool

	// RegisterChanges records changes for the job's mod-sync phase
	RegisterChanges(ctx context.Context, groupID uint16, changes []store.Change) error

	// SecondaryMissedWrite persists that the group's secondary fell behind
	SecondaryMissedWrite(ctx context.Context, groupID uint16, cause error)
}

// Forwarder sends a frame to a group's secondary
type Forwarder interface {
	CallMirrorSecondary(ctx context.Context, groupID uint16, f *wire.Frame, expect wire.MsgType) (*wire.Frame, error)
}
