// Package metadata persists the cluster view shared by all servers: which
// node serves which target, the mirror groups, and the consistency state
// of every target.
package metadata

import (
	"context"
	"errors"

	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
)

var (
	// ErrNotFound is returned for a missing key or record
	ErrNotFound = errors.New("metadata: not found")
	// ErrConflict is returned when a compare-and-swap lost a race
	ErrConflict = errors.New("metadata: concurrent update")
)

// DefaultPrefix is used when no key prefix is configured
const DefaultPrefix = "/beegfs/mirror"

// Manager manages the cluster metadata
type Manager interface {
	// Node operations
	PutNode(ctx context.Context, n nodes.Node) error
	ListNodes(ctx context.Context) ([]nodes.Node, error)

	// Target operations
	MapTarget(ctx context.Context, targetID, nodeID uint16) error
	ListTargets(ctx context.Context) (map[uint16]uint16, error)

	// Mirror group operations
	PutGroup(ctx context.Context, g nodes.MirrorGroup) error
	GetGroup(ctx context.Context, id uint16) (nodes.MirrorGroup, error)
	ListGroups(ctx context.Context) ([]nodes.MirrorGroup, error)
	DeleteGroup(ctx context.Context, id uint16) error
	SwapGroup(ctx context.Context, id uint16) (nodes.MirrorGroup, error)

	// Consistency states
	SetConsistency(ctx context.Context, targetID uint16, state nodes.ConsistencyState) error
	GetConsistency(ctx context.Context, targetID uint16) (nodes.ConsistencyState, error)
	ListConsistency(ctx context.Context) (map[uint16]nodes.ConsistencyState, error)

	// Generic key-value operations
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetPrefix(ctx context.Context, prefix string) (map[string]string, error)

	// Watch reports keys under the prefix that changed until ctx ends
	Watch(ctx context.Context) <-chan string

	// Lifecycle
	Close() error
}

// LoadTopology replaces the nodes, target mapping and groups of topo with
// the stored ones and applies the stored consistency states. Nodes whose
// registration expired are dropped; reachability is left to the caller.
func LoadTopology(ctx context.Context, m Manager, topo *nodes.Topology) error {
	nodeList, err := m.ListNodes(ctx)
	if err != nil {
		return err
	}
	targets, err := m.ListTargets(ctx)
	if err != nil {
		return err
	}
	groups, err := m.ListGroups(ctx)
	if err != nil {
		return err
	}
	states, err := m.ListConsistency(ctx)
	if err != nil {
		return err
	}

	alive := make(map[uint16]bool, len(nodeList))
	for _, n := range nodeList {
		alive[n.ID] = true
		topo.Nodes.Put(n)
	}
	for _, n := range topo.Nodes.List() {
		if !alive[n.ID] {
			topo.Nodes.Remove(n.ID)
		}
	}
	for targetID, nodeID := range targets {
		topo.Targets.Map(targetID, nodeID)
	}
	topo.Groups.ReplaceAll(groups)
	for targetID, state := range states {
		topo.States.SetConsistency(targetID, state)
	}
	return nil
}

var (
	_ Manager = (*EtcdManager)(nil)
	_ Manager = (*MemoryManager)(nil)
)
