package nodes

import (
	"sort"
	"sync"
)

// Node is a server process reachable over the peer transport
type Node struct {
	ID      uint16 `json:"id"`
	Address string `json:"address"`
}

// NodeStore maps node ids to transport addresses
type NodeStore struct {
	mu    sync.RWMutex
	nodes map[uint16]Node
}

// NewNodeStore creates an empty store
func NewNodeStore() *NodeStore {
	return &NodeStore{nodes: make(map[uint16]Node)}
}

// Put adds or updates a node
func (s *NodeStore) Put(n Node) {
	s.mu.Lock()
	s.nodes[n.ID] = n
	s.mu.Unlock()
}

// Get looks a node up
func (s *NodeStore) Get(id uint16) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Remove forgets a node
func (s *NodeStore) Remove(id uint16) {
	s.mu.Lock()
	delete(s.nodes, id)
	s.mu.Unlock()
}

// List returns all nodes ordered by id
func (s *NodeStore) List() []Node {
	s.mu.RLock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TargetMapper maps target ids to the node serving them
type TargetMapper struct {
	mu      sync.RWMutex
	targets map[uint16]uint16
}

// NewTargetMapper creates an empty mapper
func NewTargetMapper() *TargetMapper {
	return &TargetMapper{targets: make(map[uint16]uint16)}
}

// Map assigns a target to a node
func (m *TargetMapper) Map(targetID, nodeID uint16) {
	m.mu.Lock()
	m.targets[targetID] = nodeID
	m.mu.Unlock()
}

// Unmap removes a target
func (m *TargetMapper) Unmap(targetID uint16) {
	m.mu.Lock()
	delete(m.targets, targetID)
	m.mu.Unlock()
}

// NodeOf returns the node owning a target
func (m *TargetMapper) NodeOf(targetID uint16) (uint16, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.targets[targetID]
	return n, ok
}

// All copies the mapping
func (m *TargetMapper) All() map[uint16]uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint16]uint16, len(m.targets))
	for k, v := range m.targets {
		out[k] = v
	}
	return out
}

// Topology bundles the lookups needed to route a request to a target
type Topology struct {
	Nodes   *NodeStore
	Targets *TargetMapper
	Groups  *MirrorGroupMapper
	States  *TargetStateStore
}

// NewTopology creates empty lookup tables
func NewTopology() *Topology {
	return &Topology{
		Nodes:   NewNodeStore(),
		Targets: NewTargetMapper(),
		Groups:  NewMirrorGroupMapper(),
		States:  NewTargetStateStore(),
	}
}
