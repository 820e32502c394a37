package resync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCandidateQueueFIFOAndFinish(t *testing.T) {
	q := NewCandidateQueue(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Add(ctx, NewCandidate(KindFile, id)); err != nil {
			t.Fatalf("Add(%s) failed: %v", id, err)
		}
	}
	q.Finish()

	for _, want := range []string{"a", "b", "c"} {
		c, err := q.Fetch(ctx)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if c.EntryID != want {
			t.Errorf("Expected %s, got %s", want, c.EntryID)
		}
	}
	if _, err := q.Fetch(ctx); !errors.Is(err, ErrQueueFinished) {
		t.Errorf("Expected ErrQueueFinished, got %v", err)
	}
}

func TestCandidateQueueAddBlocksWhileFull(t *testing.T) {
	q := NewCandidateQueue(1)
	ctx := context.Background()

	if err := q.Add(ctx, NewCandidate(KindFile, "a")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	added := make(chan error, 1)
	go func() {
		added <- q.Add(ctx, NewCandidate(KindFile, "b"))
	}()

	select {
	case err := <-added:
		t.Fatalf("Add returned while the queue was full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	c, ok := q.TryFetch()
	if !ok || c.EntryID != "a" {
		t.Fatalf("TryFetch returned %v, %v", c, ok)
	}

	select {
	case err := <-added:
		if err != nil {
			t.Fatalf("Blocked Add failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Blocked Add was not released")
	}
	if q.Len() != 1 {
		t.Errorf("Expected 1 queued candidate, got %d", q.Len())
	}
}

func TestCandidateQueueFetchHonoursContext(t *testing.T) {
	q := NewCandidateQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Fetch(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if _, ok := q.TryFetch(); ok {
		t.Error("TryFetch on an empty queue should fail")
	}
}

func TestCandidateQueueDrainAbandons(t *testing.T) {
	q := NewCandidateQueue(4)
	ctx := context.Background()

	a := NewCandidate(KindDir, "a")
	b := NewCandidate(KindFile, "b")
	_ = q.Add(ctx, a)
	_ = q.Add(ctx, b)

	if n := q.Drain(); n != 2 {
		t.Fatalf("Expected 2 drained, got %d", n)
	}
	if err := a.Wait(ctx); !errors.Is(err, ErrAbandoned) {
		t.Errorf("Expected ErrAbandoned, got %v", err)
	}
	if !b.Abandoned() {
		t.Error("Drained candidate should be abandoned")
	}
	if q.Len() != 0 {
		t.Errorf("Queue should be empty, has %d", q.Len())
	}
}

func TestCandidateCompletesOnce(t *testing.T) {
	c := NewCandidate(KindMod, "x")
	if c.Finished() {
		t.Fatal("New candidate should not be finished")
	}
	c.Done()
	c.Abandon()
	c.Fail(errors.New("late"))

	if c.Abandoned() {
		t.Error("Completed candidate must not become abandoned")
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestCandidateQueueClose(t *testing.T) {
	q := NewCandidateQueue(2)
	ctx := context.Background()

	fetched := make(chan error, 1)
	go func() {
		_, err := q.Fetch(ctx)
		fetched <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-fetched:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Fetch was not released by Close")
	}

	c := NewCandidate(KindFile, "late")
	if err := q.Add(ctx, c); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if !c.Abandoned() {
		t.Error("Refused candidate should be abandoned")
	}
}
