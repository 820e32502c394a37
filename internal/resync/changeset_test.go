package resync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThinkParQ/beegfs-sub011/internal/store"
)

func openTestChangeset(t *testing.T, capacity int) *Changeset {
	t.Helper()
	cs, err := OpenChangeset(t.TempDir(), capacity)
	if err != nil {
		t.Fatalf("OpenChangeset failed: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestChangesetRegisterAndNext(t *testing.T) {
	cs := openTestChangeset(t, 8)
	ctx := context.Background()

	if err := cs.Register(ctx, store.Changes("mkdir", "a")); !errors.Is(err, ErrChangesetInactive) {
		t.Fatalf("Expected ErrChangesetInactive, got %v", err)
	}
	if err := cs.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := cs.Register(ctx, store.Changes("mkdir", "a", store.RootID)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := cs.Register(ctx, store.Changes("create", "b", "a")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if cs.Pending() != 4 {
		t.Fatalf("Expected 4 pending, got %d", cs.Pending())
	}

	got, err := cs.Next(10)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	want := []string{"a", store.RootID, "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d changes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].EntryID != want[i] {
			t.Errorf("Change %d: expected %s, got %s", i, want[i], got[i].EntryID)
		}
		if i > 0 && got[i].Pos <= got[i-1].Pos {
			t.Errorf("Positions not increasing: %d then %d", got[i-1].Pos, got[i].Pos)
		}
	}
	if got[2].Op != "create" {
		t.Errorf("Expected op create, got %s", got[2].Op)
	}
	if cs.Pending() != 0 {
		t.Errorf("Expected nothing pending, got %d", cs.Pending())
	}

	more, err := cs.Next(10)
	if err != nil || len(more) != 0 {
		t.Errorf("Expected no more changes, got %v, %v", more, err)
	}
}

func TestChangesetBackPressure(t *testing.T) {
	cs := openTestChangeset(t, 2)
	ctx := context.Background()
	if err := cs.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := cs.Register(ctx, store.Changes("create", "a", "b")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cs.Register(ctx, store.Changes("create", "c"))
	}()

	deadline := time.Now().Add(time.Second)
	for cs.Waiters() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Producer did not block on a full changeset")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := cs.Next(1); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Blocked Register failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Producer not released after a read")
	}
	if cs.Waiters() != 0 {
		t.Errorf("Expected no waiters, got %d", cs.Waiters())
	}
	if cs.Pending() != 2 {
		t.Errorf("Expected 2 pending, got %d", cs.Pending())
	}
}

func TestChangesetDeactivateReleasesWaiters(t *testing.T) {
	cs := openTestChangeset(t, 1)
	ctx := context.Background()
	if err := cs.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	_ = cs.Register(ctx, store.Changes("create", "a"))

	done := make(chan error, 1)
	go func() {
		done <- cs.Register(ctx, store.Changes("create", "b"))
	}()
	for cs.Waiters() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	cs.Deactivate()

	select {
	case err := <-done:
		if !errors.Is(err, ErrChangesetInactive) {
			t.Errorf("Expected ErrChangesetInactive, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Deactivate did not release the producer")
	}
}

func TestChangesetActivateDropsStaleRecords(t *testing.T) {
	cs := openTestChangeset(t, 8)
	ctx := context.Background()

	_ = cs.Activate()
	_ = cs.Register(ctx, store.Changes("create", "stale"))
	cs.Deactivate()

	if err := cs.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if cs.Pending() != 0 {
		t.Errorf("Expected a clean changeset, got %d pending", cs.Pending())
	}
	got, err := cs.Next(10)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected no records, got %v, %v", got, err)
	}
}

func TestChangesetWaitPending(t *testing.T) {
	cs := openTestChangeset(t, 8)
	_ = cs.Activate()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if cs.WaitPending(ctx) {
		t.Fatal("WaitPending reported records on an empty changeset")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = cs.Register(context.Background(), store.Changes("write", "f"))
	}()
	if !cs.WaitPending(context.Background()) {
		t.Fatal("WaitPending missed a registered change")
	}
}

func TestMarker(t *testing.T) {
	dir := t.TempDir()
	m := NewMarker(dir)

	if _, ok, err := m.Get(); ok || err != nil {
		t.Fatalf("Expected no marker, got %v, %v", ok, err)
	}

	first := time.Unix(1700000000, 0)
	if err := m.Set(first); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := m.Set(first.Add(time.Hour)); err != nil {
		t.Fatalf("Second Set failed: %v", err)
	}
	got, ok, err := m.Get()
	if err != nil || !ok {
		t.Fatalf("Get failed: %v, %v", ok, err)
	}
	if !got.Equal(first) {
		t.Errorf("First miss should win: expected %v, got %v", first, got)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("Second Clear failed: %v", err)
	}
	if _, ok, _ := m.Get(); ok {
		t.Error("Marker still present after Clear")
	}
}

func TestMarkerCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, MarkerFileName), []byte("yesterday"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := NewMarker(dir).Get()
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if !ok {
		t.Error("A corrupt marker still exists")
	}
}
