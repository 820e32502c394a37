package nodes

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownGroup  = errors.New("unknown mirror group")
	ErrTargetInGroup = errors.New("target already belongs to a mirror group")
)

// MirrorGroup is an ordered (primary, secondary) replica pair
type MirrorGroup struct {
	ID        uint16 `json:"id"`
	Primary   uint16 `json:"primary"`
	Secondary uint16 `json:"secondary"`
}

// MirrorGroupMapper resolves groups and buddies
type MirrorGroupMapper struct {
	mu       sync.RWMutex
	groups   map[uint16]MirrorGroup
	byTarget map[uint16]uint16
}

// NewMirrorGroupMapper creates an empty mapper
func NewMirrorGroupMapper() *MirrorGroupMapper {
	return &MirrorGroupMapper{
		groups:   make(map[uint16]MirrorGroup),
		byTarget: make(map[uint16]uint16),
	}
}

// Add registers a group. Replacing an existing group with the same id is allowed.
func (m *MirrorGroupMapper) Add(g MirrorGroup) error {
	if g.Primary == g.Secondary {
		return fmt.Errorf("group %d: primary and secondary must differ", g.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range []uint16{g.Primary, g.Secondary} {
		if other, ok := m.byTarget[t]; ok && other != g.ID {
			return fmt.Errorf("%w: target %d in group %d", ErrTargetInGroup, t, other)
		}
	}
	if old, ok := m.groups[g.ID]; ok {
		delete(m.byTarget, old.Primary)
		delete(m.byTarget, old.Secondary)
	}
	m.groups[g.ID] = g
	m.byTarget[g.Primary] = g.ID
	m.byTarget[g.Secondary] = g.ID
	return nil
}

// Remove deletes a group
func (m *MirrorGroupMapper) Remove(id uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[id]; ok {
		delete(m.byTarget, g.Primary)
		delete(m.byTarget, g.Secondary)
		delete(m.groups, id)
	}
}

// Get returns a group by id
func (m *MirrorGroupMapper) Get(id uint16) (MirrorGroup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	return g, ok
}

// GroupOfTarget returns the group holding target and whether target is its primary
func (m *MirrorGroupMapper) GroupOfTarget(target uint16) (MirrorGroup, bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTarget[target]
	if !ok {
		return MirrorGroup{}, false, false
	}
	g := m.groups[id]
	return g, g.Primary == target, true
}

// BuddyOf returns the other member of target's group
func (m *MirrorGroupMapper) BuddyOf(target uint16) (uint16, bool) {
	g, isPrimary, ok := m.GroupOfTarget(target)
	if !ok {
		return 0, false
	}
	if isPrimary {
		return g.Secondary, true
	}
	return g.Primary, true
}

// Swap exchanges primary and secondary of a group
func (m *MirrorGroupMapper) Swap(id uint16) (MirrorGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return MirrorGroup{}, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}
	g.Primary, g.Secondary = g.Secondary, g.Primary
	m.groups[id] = g
	return g, nil
}

// List returns all groups ordered by id
func (m *MirrorGroupMapper) List() []MirrorGroup {
	m.mu.RLock()
	out := make([]MirrorGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReplaceAll swaps in a fresh set of groups, as read from the coordinator
func (m *MirrorGroupMapper) ReplaceAll(groups []MirrorGroup) {
	fresh := make(map[uint16]MirrorGroup, len(groups))
	byTarget := make(map[uint16]uint16, 2*len(groups))
	for _, g := range groups {
		fresh[g.ID] = g
		byTarget[g.Primary] = g.ID
		byTarget[g.Secondary] = g.ID
	}
	m.mu.Lock()
	m.groups = fresh
	m.byTarget = byTarget
	m.mu.Unlock()
}
