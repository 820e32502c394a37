package session

import (
	"sort"
	"sync"

	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// Store owns all client sessions of a target. Sessions are
// reference-counted; the last Release of a purged session removes it.
type Store struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{sessions: make(map[uint32]*Session)}
}

// Reference returns the session, creating it on first use, and takes a
// reference. A purged session that is still in the store is revived.
func (st *Store) Reference(id uint32) *Session {
	// removal needs the write lock, so a session found here stays put
	st.mu.RLock()
	s, ok := st.sessions[id]
	if ok {
		s.refs.Add(1)
		s.purged.Store(false)
	}
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok = st.sessions[id]
	if !ok {
		s = newSession(id)
		st.sessions[id] = s
	}
	s.refs.Add(1)
	s.purged.Store(false)
	return s
}

// Release drops a reference taken by Reference
func (st *Store) Release(s *Session) {
	if s.refs.Add(-1) == 0 && s.purged.Load() {
		st.mu.Lock()
		st.removeLocked(s)
		st.mu.Unlock()
	}
}

// Purge marks a session for removal. It disappears now if unreferenced,
// otherwise when the last holder releases it.
func (st *Store) Purge(id uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return
	}
	s.purged.Store(true)
	st.removeLocked(s)
}

// removeLocked deletes s if it is still purged and unreferenced
func (st *Store) removeLocked(s *Session) {
	if !s.purged.Load() || s.refs.Load() != 0 {
		return
	}
	if cur, ok := st.sessions[s.id]; ok && cur == s {
		delete(st.sessions, s.id)
	}
}

// Get returns a session without taking a reference
func (st *Store) Get(id uint32) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Len returns the number of sessions
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) list() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Export snapshots session metadata for a resync
func (st *Store) Export() []wire.SessionRecord {
	sessions := st.list()
	out := make([]wire.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.record())
	}
	return out
}

// Import makes the store match the exported records. Sessions missing
// from records are purged; dedup slots of surviving sessions are kept.
func (st *Store) Import(records []wire.SessionRecord) {
	keep := make(map[uint32]bool, len(records))
	for _, r := range records {
		keep[r.ID] = true
		s := st.Reference(r.ID)
		s.restore(r)
		st.Release(s)
	}
	for _, s := range st.list() {
		if !keep[s.id] {
			st.Purge(s.id)
		}
	}
}
