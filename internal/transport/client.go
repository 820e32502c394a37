package transport

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// ClientConfig holds per-call limits
type ClientConfig struct {
	Timeout        time.Duration
	MaxMessageSize uint32
}

// Client sends request frames to peers resolved through the topology
type Client struct {
	pool   *ConnectionPool
	topo   *nodes.Topology
	config ClientConfig
	logger *logging.Logger
}

// NewClient creates a client with its own connection pool
func NewClient(topo *nodes.Topology, cfg ClientConfig, logger *logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = utils.DefaultRPCTimeout
	}
	return &Client{
		pool:   NewConnectionPool(cfg.MaxMessageSize, logger),
		topo:   topo,
		config: cfg,
		logger: logger,
	}
}

// Pool exposes the connection pool for status reporting
func (c *Client) Pool() *ConnectionPool {
	return c.pool
}

// Close releases all connections
func (c *Client) Close() {
	c.pool.Close()
}

// Call sends req to address and waits for a response of type expect.
// A connection fault invalidates the connection and the call is retried
// exactly once; a GenericResponse is turned into the matching error.
func (c *Client) Call(ctx context.Context, address string, req *wire.Frame, expect wire.MsgType) (*wire.Frame, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := c.pool.Get(address)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := c.invoke(ctx, conn, req)
		if err == nil {
			return c.interpret(address, resp, expect)
		}

		c.pool.Invalidate(address)
		lastErr = err
		if ctx.Err() != nil || !isConnectionFault(err) {
			break
		}
		if attempt == 0 {
			c.logger.Debug("Connection fault, retrying once",
				"address", address,
				"type", req.Header.Type.String(),
				"error", err)
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrCommunication, address, lastErr)
}

func (c *Client) invoke(ctx context.Context, conn *grpc.ClientConn, req *wire.Frame) (*wire.Frame, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp := new(wire.Frame)
	if err := conn.Invoke(callCtx, MethodExchange, req, resp, grpc.CallContentSubtype(wire.CodecName)); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			return nil, fmt.Errorf("timed out after %s: %w", c.config.Timeout, err)
		}
		return nil, err
	}
	return resp, nil
}

// interpret maps generic control replies to errors
func (c *Client) interpret(address string, resp *wire.Frame, expect wire.MsgType) (*wire.Frame, error) {
	if resp.Header.Type == expect {
		return resp, nil
	}

	if resp.Header.Type != wire.MsgGenericResponse {
		c.pool.Invalidate(address)
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrCommunication, expect, resp.Header.Type)
	}

	var g wire.GenericResponse
	if err := resp.Decode(&g); err != nil {
		c.pool.Invalidate(address)
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	switch g.Code {
	case wire.GenericTryAgain:
		return nil, fmt.Errorf("%w: %s", ErrAgain, g.Detail)
	case wire.GenericIndirectCommErr:
		return nil, fmt.Errorf("%w: %w: %s", ErrCommunication, ErrIndirect, g.Detail)
	default:
		c.pool.Invalidate(address)
		return nil, fmt.Errorf("%w: unexpected control reply %d: %s", ErrInternal, g.Code, g.Detail)
	}
}

// CallNode resolves nodeID and calls it
func (c *Client) CallNode(ctx context.Context, nodeID uint16, req *wire.Frame, expect wire.MsgType) (*wire.Frame, error) {
	node, ok := c.topo.Nodes.Get(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	return c.Call(ctx, node.Address, req, expect)
}

// CallTarget routes to the node owning targetID. Targets known to be
// offline are not contacted.
func (c *Client) CallTarget(ctx context.Context, targetID uint16, req *wire.Frame, expect wire.MsgType) (*wire.Frame, error) {
	nodeID, ok := c.topo.Targets.NodeOf(targetID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTarget, targetID)
	}
	st, ok := c.topo.States.Get(targetID)
	if !ok {
		return nil, fmt.Errorf("%w: no state for target %d", ErrCommunication, targetID)
	}
	if st.Reachability == nodes.Offline {
		return nil, fmt.Errorf("%w: %w: %d", ErrCommunication, ErrTargetOffline, targetID)
	}
	return c.CallNode(ctx, nodeID, req, expect)
}

// CallMirrorSecondary forwards to the current secondary of groupID. A
// secondary that is neither good nor needs-resync is skipped.
func (c *Client) CallMirrorSecondary(ctx context.Context, groupID uint16, req *wire.Frame, expect wire.MsgType) (*wire.Frame, error) {
	group, ok := c.topo.Groups.Get(groupID)
	if !ok {
		return nil, fmt.Errorf("%w: group %d", ErrUnknownTarget, groupID)
	}
	if st, ok := c.topo.States.Get(group.Secondary); ok && !st.Usable() {
		return nil, fmt.Errorf("%w: secondary %d is %s", ErrCommunication, group.Secondary, st.Consistency)
	}
	return c.CallTarget(ctx, group.Secondary, req, expect)
}
