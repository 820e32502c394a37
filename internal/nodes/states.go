package nodes

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ReachabilityState is maintained by the heartbeat side and only read here
type ReachabilityState uint8

const (
	Online ReachabilityState = iota
	ProbablyOffline
	Offline
)

func (s ReachabilityState) String() string {
	switch s {
	case Online:
		return "online"
	case ProbablyOffline:
		return "probably-offline"
	case Offline:
		return "offline"
	default:
		return fmt.Sprintf("reachability(%d)", uint8(s))
	}
}

// ConsistencyState classifies how far a secondary can be trusted
type ConsistencyState uint8

const (
	Good ConsistencyState = iota
	NeedsResync
	Bad
)

func (s ConsistencyState) String() string {
	switch s {
	case Good:
		return "good"
	case NeedsResync:
		return "needs-resync"
	case Bad:
		return "bad"
	default:
		return fmt.Sprintf("consistency(%d)", uint8(s))
	}
}

// ParseConsistency accepts the names produced by String
func ParseConsistency(s string) (ConsistencyState, error) {
	switch s {
	case "good":
		return Good, nil
	case "needs-resync":
		return NeedsResync, nil
	case "bad":
		return Bad, nil
	}
	return 0, fmt.Errorf("unknown consistency state %q", s)
}

// CombinedState is the pair reported for a target
type CombinedState struct {
	Reachability ReachabilityState `json:"reachability"`
	Consistency  ConsistencyState  `json:"consistency"`
}

// Usable reports whether a mirror may be sent to a target in this state
func (c CombinedState) Usable() bool {
	return c.Consistency == Good || c.Consistency == NeedsResync
}

// ChangeHandler observes consistency transitions
type ChangeHandler func(targetID uint16, old, new CombinedState)

type targetState struct {
	mu          sync.RWMutex
	state       CombinedState
	lastRefresh time.Time // zero until the first Refresh
}

// TargetStateStore maps target ids to their combined state. The map is
// guarded by one RWMutex, each target by its own, so a state update never
// holds up lookups of unrelated targets.
type TargetStateStore struct {
	mu       sync.RWMutex
	targets  map[uint16]*targetState
	handlers []ChangeHandler
	now      func() time.Time
}

// NewTargetStateStore creates an empty store
func NewTargetStateStore() *TargetStateStore {
	return &TargetStateStore{
		targets: make(map[uint16]*targetState),
		now:     time.Now,
	}
}

// OnChange registers a handler invoked after any state change
func (s *TargetStateStore) OnChange(h ChangeHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

func (s *TargetStateStore) lookup(id uint16) *targetState {
	s.mu.RLock()
	ts := s.targets[id]
	s.mu.RUnlock()
	return ts
}

func (s *TargetStateStore) getOrCreate(id uint16) *targetState {
	if ts := s.lookup(id); ts != nil {
		return ts
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.targets[id]
	if !ok {
		ts = &targetState{state: CombinedState{Reachability: Online, Consistency: Good}}
		s.targets[id] = ts
	}
	return ts
}

// Get returns the state of a target, false if it is unknown
func (s *TargetStateStore) Get(id uint16) (CombinedState, bool) {
	ts := s.lookup(id)
	if ts == nil {
		return CombinedState{}, false
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.state, true
}

func (s *TargetStateStore) update(id uint16, fn func(*CombinedState)) bool {
	ts := s.getOrCreate(id)

	ts.mu.Lock()
	old := ts.state
	fn(&ts.state)
	cur := ts.state
	ts.mu.Unlock()

	if old == cur {
		return false
	}

	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h(id, old, cur)
	}
	return true
}

// SetConsistency updates the consistency half, reporting whether it changed
func (s *TargetStateStore) SetConsistency(id uint16, state ConsistencyState) bool {
	return s.update(id, func(c *CombinedState) { c.Consistency = state })
}

// SetReachability updates the reachability half
func (s *TargetStateStore) SetReachability(id uint16, state ReachabilityState) bool {
	return s.update(id, func(c *CombinedState) { c.Reachability = state })
}

// SetState replaces both halves
func (s *TargetStateStore) SetState(id uint16, state CombinedState) bool {
	return s.update(id, func(c *CombinedState) { *c = state })
}

// CompareAndSetConsistency changes the state only if it currently equals expect
func (s *TargetStateStore) CompareAndSetConsistency(id uint16, expect, state ConsistencyState) bool {
	return s.update(id, func(c *CombinedState) {
		if c.Consistency == expect {
			c.Consistency = state
		}
	})
}

// Refresh records a sign of life and marks the target Online
func (s *TargetStateStore) Refresh(id uint16) {
	ts := s.getOrCreate(id)
	ts.mu.Lock()
	ts.lastRefresh = s.now()
	ts.mu.Unlock()
	s.SetReachability(id, Online)
}

// DecayReachability moves targets without a recent refresh to
// ProbablyOffline after half the timeout and Offline after the full one.
// A target that was never refreshed goes Offline at once.
func (s *TargetStateStore) DecayReachability(timeout time.Duration) {
	now := s.now()
	for _, id := range s.IDs() {
		ts := s.lookup(id)
		if ts == nil {
			continue
		}
		ts.mu.RLock()
		last := ts.lastRefresh
		ts.mu.RUnlock()
		age := now.Sub(last)

		switch {
		case last.IsZero() || age >= timeout:
			s.SetReachability(id, Offline)
		case age >= timeout/2:
			s.SetReachability(id, ProbablyOffline)
		}
	}
}

// Remove forgets a target
func (s *TargetStateStore) Remove(id uint16) {
	s.mu.Lock()
	delete(s.targets, id)
	s.mu.Unlock()
}

// IDs returns the known target ids in ascending order
func (s *TargetStateStore) IDs() []uint16 {
	s.mu.RLock()
	ids := make([]uint16, 0, len(s.targets))
	for id := range s.targets {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot copies all states
func (s *TargetStateStore) Snapshot() map[uint16]CombinedState {
	out := make(map[uint16]CombinedState)
	for _, id := range s.IDs() {
		if st, ok := s.Get(id); ok {
			out[id] = st
		}
	}
	return out
}
