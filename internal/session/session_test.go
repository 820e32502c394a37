package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

func okFrame(seq uint64) *wire.Frame {
	var h wire.Header
	h.SetSequence(seq, seq-1)
	return wire.NewFrame(&wire.OpResponse{}, h)
}

func TestAcquireSlot_DuplicateInProgress(t *testing.T) {
	st := NewStore()
	s := st.Reference(1)
	defer st.Release(s)

	slot, isNew := s.AcquireSlot(4, 5, false)
	if !isNew {
		t.Fatal("first acquire must create the slot")
	}

	dup, isNew := s.AcquireSlot(4, 5, false)
	if isNew {
		t.Fatal("duplicate acquire must not create a new slot")
	}
	if _, done := dup.Response(); done {
		t.Fatal("duplicate must observe the slot in progress")
	}

	resp := okFrame(5)
	slot.Finish(resp)

	again, isNew := s.AcquireSlot(4, 5, false)
	if isNew {
		t.Fatal("retransmit must hit the cached slot")
	}
	got, done := again.Response()
	if !done || got != resp {
		t.Fatal("retransmit must replay the cached response")
	}
}

func TestAcquireSlot_ConcurrentCreatesOnce(t *testing.T) {
	st := NewStore()
	s := st.Reference(1)
	defer st.Release(s)

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, isNew := s.AcquireSlot(9, 10, false); isNew {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Fatalf("expected exactly one creator, got %d", created.Load())
	}
}

func TestAcquireSlot_StrictEviction(t *testing.T) {
	s := newSession(1)
	for seq := uint64(1); seq <= 3; seq++ {
		slot, _ := s.AcquireSlot(seq-1, seq, false)
		slot.Finish(okFrame(seq))
	}
	// seq 4 evicts every finished slot below it
	s.AcquireSlot(3, 4, false)
	if n := s.SlotCount(); n != 1 {
		t.Fatalf("expected 1 slot after strict eviction, got %d", n)
	}
}

func TestAcquireSlot_SelectiveEviction(t *testing.T) {
	s := newSession(1)

	slot1, _ := s.AcquireSlot(0, 1, true)
	slot3, _ := s.AcquireSlot(0, 3, true)
	s.AcquireSlot(0, 2, true) // still in progress
	slot1.Finish(okFrame(1))
	slot3.Finish(okFrame(3))

	// client acked up to 2: slot 1 goes, slot 2 is unfinished, slot 3 is above the ack
	s.AcquireSlot(2, 4, true)
	if n := s.SlotCount(); n != 3 {
		t.Fatalf("expected slots 2,3,4 to remain, got %d", n)
	}
	if _, isNew := s.AcquireSlot(2, 3, true); isNew {
		t.Fatal("slot 3 must still be cached")
	}
}

func TestBaseSequence(t *testing.T) {
	s := newSession(1)
	if got := s.BaseSequence(); got != 1 {
		t.Fatalf("fresh session base = %d, want 1", got)
	}
	s.AcquireSlot(0, 41, true)
	if got := s.BaseSequence(); got != 42 {
		t.Fatalf("base after seq 41 = %d, want 42", got)
	}
	s.AcquireSlot(0, 7, true)
	if got := s.BaseSequence(); got != 42 {
		t.Fatalf("base must not go backwards, got %d", got)
	}
}

func TestSlotAbandon(t *testing.T) {
	s := newSession(1)
	slot, _ := s.AcquireSlot(0, 1, false)
	slot.Abandon()
	if _, isNew := s.AcquireSlot(0, 1, false); !isNew {
		t.Fatal("abandoned slot must allow a fresh execution")
	}
}

func TestStore_PurgeWaitsForLastRelease(t *testing.T) {
	st := NewStore()
	a := st.Reference(7)
	b := st.Reference(7)
	if a != b {
		t.Fatal("references must share the session")
	}

	st.Purge(7)
	if _, ok := st.Get(7); !ok {
		t.Fatal("referenced session must survive purge")
	}

	st.Release(a)
	if _, ok := st.Get(7); !ok {
		t.Fatal("session must survive until the last release")
	}
	st.Release(b)
	if _, ok := st.Get(7); ok {
		t.Fatal("session must be gone after the last release")
	}
}

func TestStore_ReferenceRevivesPurgedSession(t *testing.T) {
	st := NewStore()
	a := st.Reference(7)
	st.Purge(7)

	b := st.Reference(7)
	if a != b {
		t.Fatal("a purged session still in the store must be reused")
	}
	st.Release(a)
	st.Release(b)
	if got, ok := st.Get(7); !ok || got != a {
		t.Fatal("revived session must stay after its references are released")
	}

	st.Purge(7)
	if _, ok := st.Get(7); ok {
		t.Fatal("unreferenced session must go on purge")
	}
}

func TestStore_HeldSessionSurvivesConcurrentPurge(t *testing.T) {
	st := NewStore()
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				st.Purge(5)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		s := st.Reference(5)
		if got, ok := st.Get(5); !ok || got != s {
			close(done)
			wg.Wait()
			t.Fatalf("iteration %d: session removed while referenced", i)
		}
		st.Release(s)
	}
	close(done)
	wg.Wait()
}

func TestStore_ExportImport(t *testing.T) {
	src := NewStore()
	s := src.Reference(3)
	s.OpenFile("f1")
	s.OpenFile("f1")
	s.OpenFile("f2")
	s.AcquireSlot(0, 10, false)
	src.Release(s)

	dst := NewStore()
	stale := dst.Reference(99)
	stale.OpenFile("old")
	dst.Release(stale)

	dst.Import(src.Export())

	if _, ok := dst.Get(99); ok {
		t.Error("session missing from the export must be purged")
	}
	got, ok := dst.Get(3)
	if !ok {
		t.Fatal("session 3 must be imported")
	}
	files := got.OpenFiles()
	if len(files) != 3 || files[0] != "f1" || files[2] != "f2" {
		t.Errorf("unexpected open files %v", files)
	}
	if got.BaseSequence() != 11 {
		t.Errorf("base sequence = %d, want 11", got.BaseSequence())
	}
}

func TestCloseFile(t *testing.T) {
	s := newSession(1)
	s.OpenFile("f")
	if !s.CloseFile("f") {
		t.Fatal("close of open file must succeed")
	}
	if s.CloseFile("f") {
		t.Fatal("second close must fail")
	}
}
