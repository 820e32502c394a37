package transport

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

var (
	// ErrCommunication covers transport faults and timeouts
	ErrCommunication = errors.New("communication error")
	// ErrIndirect marks a peer that failed talking to a third node
	ErrIndirect = errors.New("indirect communication error")
	// ErrAgain is the peer asking the caller to retry later
	ErrAgain = errors.New("peer requested retry")
	// ErrUnknownNode means the node id has no known address
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownTarget means the target or group cannot be routed
	ErrUnknownTarget = errors.New("unknown target")
	// ErrInternal is a malformed or unexpected control message
	ErrInternal = errors.New("internal error")
	// ErrTargetOffline short-circuits calls to targets known to be offline
	ErrTargetOffline = errors.New("target offline")
)

// RemoteError is an application-level failure reported by the peer.
// It is never retried.
type RemoteError struct {
	Code int32
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote operation failed with code %d", e.Code)
}

// CheckResult decodes an OpResponse and turns a non-zero result into a RemoteError
func CheckResult(f *wire.Frame) (*wire.OpResponse, error) {
	var resp wire.OpResponse
	if err := f.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if resp.Result != 0 {
		return &resp, &RemoteError{Code: resp.Result}
	}
	return &resp, nil
}

// isConnectionFault reports grpc failures that justify dropping the
// connection and trying once more
func isConnectionFault(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted:
		return true
	}
	return false
}
