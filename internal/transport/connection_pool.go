package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// ConnectionPool keeps one grpc connection per peer address
type ConnectionPool struct {
	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	logger  *logging.Logger
	maxSize int

	healthCheckInterval time.Duration
	stopCh              chan struct{}
	wg                  sync.WaitGroup
	closed              bool
	closeMu             sync.Mutex
}

// NewConnectionPool creates a pool and starts its health loop
func NewConnectionPool(maxMessageSize uint32, logger *logging.Logger) *ConnectionPool {
	if maxMessageSize == 0 {
		maxMessageSize = wire.DefaultMaxFrameSize
	}
	pool := &ConnectionPool{
		conns:               make(map[string]*grpc.ClientConn),
		logger:              logger,
		maxSize:             int(maxMessageSize),
		healthCheckInterval: utils.GRPCHealthCheckInterval,
		stopCh:              make(chan struct{}),
	}

	pool.wg.Add(1)
	go pool.healthCheckLoop()

	return pool
}

func usable(conn *grpc.ClientConn) bool {
	state := conn.GetState()
	return state != connectivity.TransientFailure && state != connectivity.Shutdown
}

// Get returns a pooled connection, dialing if needed
func (p *ConnectionPool) Get(address string) (*grpc.ClientConn, error) {
	p.mu.RLock()
	conn, exists := p.conns[address]
	p.mu.RUnlock()
	if exists && usable(conn) {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeMu.Lock()
	closed := p.closed
	p.closeMu.Unlock()
	if closed {
		return nil, fmt.Errorf("connection pool closed")
	}

	if conn, exists := p.conns[address]; exists {
		if usable(conn) {
			return conn, nil
		}
		_ = conn.Close()
		delete(p.conns, address)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(wire.CodecName),
			grpc.MaxCallRecvMsgSize(p.maxSize),
			grpc.MaxCallSendMsgSize(p.maxSize),
		),
	}

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	p.conns[address] = conn
	p.logger.Debug("Created new gRPC connection", "address", address)
	return conn, nil
}

// Invalidate closes and forgets the connection to address
func (p *ConnectionPool) Invalidate(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, exists := p.conns[address]; exists {
		_ = conn.Close()
		delete(p.conns, address)
		p.logger.Debug("Invalidated gRPC connection", "address", address)
	}
}

func (p *ConnectionPool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.checkConnections()
		}
	}
}

// checkConnections drops broken connections and nudges idle ones
func (p *ConnectionPool) checkConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for address, conn := range p.conns {
		state := conn.GetState()
		switch state {
		case connectivity.TransientFailure, connectivity.Shutdown:
			_ = conn.Close()
			delete(p.conns, address)
			p.logger.Warn("Removed unhealthy gRPC connection",
				"address", address,
				"state", state.String())
		case connectivity.Idle:
			ctx, cancel := context.WithTimeout(context.Background(), utils.GRPCConnectTimeout)
			conn.Connect()
			if !conn.WaitForStateChange(ctx, connectivity.Idle) {
				p.logger.Debug("Connection idle, attempting reconnect", "address", address)
			}
			cancel()
		}
	}
}

// Count returns the number of pooled connections
func (p *ConnectionPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// States returns the connectivity state per address
func (p *ConnectionPool) States() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make(map[string]string, len(p.conns))
	for address, conn := range p.conns {
		states[address] = conn.GetState().String()
	}
	return states
}

// Close closes all connections and stops the health checker
func (p *ConnectionPool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	for address, conn := range p.conns {
		if err := conn.Close(); err != nil {
			p.logger.Warn("Failed to close gRPC connection", "address", address, "error", err)
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
}
