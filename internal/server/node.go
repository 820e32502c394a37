// Package server assembles one storage server: the local targets with
// their executors, the worker pools, the peer transport and the resync
// machinery, kept in step with the coordinator by the internode syncer.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/metrics"
	"github.com/ThinkParQ/beegfs-sub011/internal/mirror"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/queue"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
	"github.com/ThinkParQ/beegfs-sub011/internal/session"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/transport"
	"github.com/ThinkParQ/beegfs-sub011/internal/worker"
)

// ErrUnknownTarget is returned for a target this node does not serve
var ErrUnknownTarget = errors.New("target not served by this node")

// Deps are the external services a node needs
type Deps struct {
	Config   *config.Config
	Metadata metadata.Manager
	// Events may be nil when event publishing is disabled
	Events  queue.Publisher
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Target is one local target with its executor
type Target struct {
	ID       uint16
	Dir      string
	Executor *mirror.Executor
}

// Node is a running storage server
type Node struct {
	cfg    *config.Config
	meta   metadata.Manager
	events queue.Publisher
	logger *logging.Logger

	metrics  *metrics.Metrics
	topo     *nodes.Topology
	client   *transport.Client
	server   *transport.Server
	clients  *worker.Pool
	mirrors  *worker.Pool
	resyncer *resync.Resyncer
	receiver *resync.Receiver
	reporter *CoordinatorReporter
	states   *StatePublisher
	syncer   *InternodeSyncer

	targets map[uint16]*Target

	stopOnce sync.Once
}

// NewNode opens the local targets and wires every component. Nothing
// listens or runs until Start.
func NewNode(d Deps) (*Node, error) {
	cfg := d.Config
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if d.Metadata == nil {
		return nil, errors.New("server: metadata manager is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}
	logger = logger.With("node_id", cfg.Node.NodeID)

	n := &Node{
		cfg:     cfg,
		meta:    d.Metadata,
		events:  d.Events,
		logger:  logger,
		metrics: m,
		topo:    nodes.NewTopology(),
		targets: make(map[uint16]*Target),
	}

	n.client = transport.NewClient(n.topo, transport.ClientConfig{
		Timeout:        cfg.Mirror.RPCTimeout,
		MaxMessageSize: cfg.Mirror.MaxMessageSize,
	}, logger)

	// Client operations and forwarded mirror copies run on separate pools.
	// A resync pauses only the first, so buddies keep serving each other.
	n.clients = worker.NewPool(worker.Config{
		Workers:   cfg.Mirror.WorkerCount,
		QueueSize: cfg.Mirror.WorkQueueSize,
	}, logger.With("pool", "clients"))
	n.mirrors = worker.NewPool(worker.Config{
		Workers:   cfg.Mirror.WorkerCount,
		QueueSize: cfg.Mirror.WorkQueueSize,
	}, logger.With("pool", "mirrors"))

	n.reporter = NewCoordinatorReporter(d.Metadata, cfg.Mirror.RPCTimeout, logger)
	n.receiver = resync.NewReceiver(n.topo.States, m, logger)

	var events resync.EventPublisher
	if d.Events != nil {
		events = d.Events
		n.states = NewStatePublisher(d.Events, cfg.Queue.Subject, logger)
		n.topo.States.OnChange(n.states.OnChange)
	}

	n.resyncer = resync.NewResyncer(resync.Deps{
		Config: resync.Config{
			Job: resync.JobConfig{
				Slaves:         cfg.Mirror.NumResyncSlaves,
				ChunkSize:      cfg.Mirror.SparseChunkSize,
				QueueSize:      cfg.Mirror.CandidateQueueSize,
				ErrorThreshold: cfg.Mirror.ErrorThreshold,
				AbortBudget:    cfg.Mirror.AbortRetryBudget,
			},
			SafetyThreshold:   cfg.Mirror.ResyncSafetyThreshold,
			ChangesetCapacity: cfg.Mirror.ChangesetCapacity,
			Subject:           cfg.Queue.Subject,
		},
		Topology: n.topo,
		Peer:     n.client,
		Pauser:   n.clients,
		Reporter: n.reporter,
		Events:   events,
		Metrics:  m,
		Logger:   logger.With("component", "resync"),
	})

	for _, id := range cfg.Node.Targets {
		if err := n.openTarget(id); err != nil {
			_ = n.resyncer.Close()
			n.client.Close()
			return nil, err
		}
	}

	n.server = transport.NewServer(cfg.GetGRPCAddress(), n, cfg.Mirror.MaxMessageSize, logger)
	n.syncer = NewInternodeSyncer(n, cfg.Mirror.SyncInterval, cfg.Mirror.TargetOfflineTimeout, logger)
	return n, nil
}

// openTarget loads the namespace snapshot of a target
func (n *Node) openTarget(id uint16) error {
	dir := n.cfg.TargetDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("target %d: %w", id, err)
	}

	ns, err := store.LoadSnapshot(dir)
	if err != nil {
		return fmt.Errorf("target %d: load namespace: %w", id, err)
	}
	sessions := session.NewStore()

	exec := mirror.NewExecutor(mirror.Deps{
		Config: mirror.Config{
			RPCTimeout:    n.cfg.Mirror.RPCTimeout,
			RetryInterval: n.cfg.Mirror.RPCRetryInterval,
		},
		Namespace: ns,
		Sessions:  sessions,
		Locks:     mirror.NewLockStore(),
		Topology:  n.topo,
		Forwarder: n.client,
		Tracker:   n.resyncer,
		Metrics:   n.metrics,
		Logger:    n.logger.With("target", id),
	})

	if err := n.resyncer.AddTarget(id, ns, sessions, dir); err != nil {
		return err
	}
	n.receiver.AddTarget(id, ns, sessions)
	n.targets[id] = &Target{ID: id, Dir: dir, Executor: exec}

	n.logger.Info("Target opened", "target", id, "dir", dir, "entries", ns.Len())
	return nil
}

// Start loads the topology, launches the workers and the peer transport
// and begins the periodic coordinator sync
func (n *Node) Start(ctx context.Context) error {
	if err := n.syncer.SyncOnce(ctx); err != nil {
		n.logger.Warn("Initial topology load failed, continuing with local view", "error", err)
	}

	n.clients.Start()
	n.mirrors.Start()

	if err := n.server.Listen(); err != nil {
		n.clients.Stop()
		n.mirrors.Stop()
		return err
	}
	n.server.Serve()

	n.syncer.Start(ctx)
	n.logger.Info("Node started", "address", n.server.Addr(), "targets", len(n.targets))
	return nil
}

// Stop shuts down in reverse order and snapshots every namespace
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.syncer.Stop()
		// a running job may hold the client pool paused
		if err := n.resyncer.Close(); err != nil {
			n.logger.Warn("Resyncer did not close cleanly", "error", err)
		}
		n.server.Stop()
		n.clients.Stop()
		n.mirrors.Stop()
		n.client.Close()
		if n.states != nil {
			n.states.Close()
		}

		for _, t := range n.Targets() {
			if err := t.Executor.Namespace().SaveSnapshot(t.Dir); err != nil {
				n.logger.Error("Failed to save namespace snapshot", "target", t.ID, "error", err)
			}
		}
		n.logger.Info("Node stopped")
	})
}

// Addr is the bound peer transport address
func (n *Node) Addr() string {
	return n.server.Addr()
}

// ID returns the configured node id
func (n *Node) ID() uint16 {
	return n.cfg.Node.NodeID
}

// Topology returns the node's view of the cluster
func (n *Node) Topology() *nodes.Topology {
	return n.topo
}

// Resyncer returns the buddy resync manager
func (n *Node) Resyncer() *resync.Resyncer {
	return n.resyncer
}

// Metadata returns the coordinator client
func (n *Node) Metadata() metadata.Manager {
	return n.meta
}

// Metrics returns the node's collectors
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Syncer returns the internode syncer
func (n *Node) Syncer() *InternodeSyncer {
	return n.syncer
}

// Paused reports whether client operations are currently frozen
func (n *Node) Paused() bool {
	return n.clients.Paused()
}

// Target returns a local target
func (n *Node) Target(id uint16) (*Target, bool) {
	t, ok := n.targets[id]
	return t, ok
}

// Targets returns the local targets ordered by id
func (n *Node) Targets() []*Target {
	out := make([]*Target, 0, len(n.targets))
	for _, t := range n.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TargetIDs returns the ids of the local targets in ascending order
func (n *Node) TargetIDs() []uint16 {
	ids := make([]uint16, 0, len(n.targets))
	for _, t := range n.Targets() {
		ids = append(ids, t.ID)
	}
	return ids
}

// Connections reports the state of every pooled peer connection
func (n *Node) Connections() map[string]string {
	return n.client.Pool().States()
}
