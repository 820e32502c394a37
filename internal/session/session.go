package session

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

// Slot holds the state of one (session, sequence) pair. A slot is in
// progress until Finish stores the response.
type Slot struct {
	sess *Session
	seq  uint64
	done bool
	resp *wire.Frame
}

// Sequence returns the slot's sequence number
func (s *Slot) Sequence() uint64 {
	return s.seq
}

// Response returns the cached response and whether the slot is finished
func (s *Slot) Response() (*wire.Frame, bool) {
	s.sess.mu.Lock()
	defer s.sess.mu.Unlock()
	return s.resp, s.done
}

// Finish publishes the response. Duplicates that acquire the slot
// afterwards replay it verbatim.
func (s *Slot) Finish(resp *wire.Frame) {
	s.sess.mu.Lock()
	defer s.sess.mu.Unlock()
	if s.done {
		return
	}
	s.resp = resp
	s.done = true
}

// Abandon drops an unfinished slot so a retry can execute the operation
func (s *Slot) Abandon() {
	s.sess.mu.Lock()
	defer s.sess.mu.Unlock()
	if s.done {
		return
	}
	if cur, ok := s.sess.slots[s.seq]; ok && cur == s {
		delete(s.sess.slots, s.seq)
	}
}

// Session is one client's dedup slots and open files
type Session struct {
	id uint32

	mu        sync.Mutex
	slots     map[uint64]*Slot
	baseSeq   uint64
	openFiles map[string]int

	refs   atomic.Int32
	purged atomic.Bool
}

func newSession(id uint32) *Session {
	return &Session{
		id:        id,
		slots:     make(map[uint64]*Slot),
		baseSeq:   1,
		openFiles: make(map[string]int),
	}
}

// ID returns the session id
func (s *Session) ID() uint32 {
	return s.id
}

// AcquireSlot returns the slot for seq, creating an in-progress slot if
// none exists. isNew is true only for the caller that created it.
//
// Finished slots are evicted first: in strict mode every slot below seq,
// in selective-ack mode every slot at or below seqDone.
func (s *Session) AcquireSlot(seqDone, seq uint64, selectiveAck bool) (*Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, slot := range s.slots {
		if !slot.done {
			continue
		}
		if (selectiveAck && k <= seqDone) || (!selectiveAck && k < seq) {
			delete(s.slots, k)
		}
	}

	if slot, ok := s.slots[seq]; ok {
		return slot, false
	}

	slot := &Slot{sess: s, seq: seq}
	s.slots[seq] = slot
	if seq >= s.baseSeq {
		s.baseSeq = seq + 1
	}
	return slot, true
}

// BaseSequence is the value a client receives for the seq==0 handshake
func (s *Session) BaseSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseSeq
}

// SlotCount returns the number of cached or in-progress slots
func (s *Session) SlotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// OpenFile records one more open handle on fileID
func (s *Session) OpenFile(fileID string) {
	s.mu.Lock()
	s.openFiles[fileID]++
	s.mu.Unlock()
}

// CloseFile drops one handle, false if the file was not open
func (s *Session) CloseFile(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.openFiles[fileID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.openFiles, fileID)
	} else {
		s.openFiles[fileID] = n - 1
	}
	return true
}

// OpenFiles lists open file ids, one entry per handle, sorted
func (s *Session) OpenFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, n := range s.openFiles {
		for i := 0; i < n; i++ {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Session) record() wire.SessionRecord {
	files := s.OpenFiles()
	return wire.SessionRecord{ID: s.id, BaseSeq: s.BaseSequence(), OpenFiles: files}
}

func (s *Session) restore(r wire.SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.BaseSeq > s.baseSeq {
		s.baseSeq = r.BaseSeq
	}
	s.openFiles = make(map[string]int, len(r.OpenFiles))
	for _, f := range r.OpenFiles {
		s.openFiles[f]++
	}
}
