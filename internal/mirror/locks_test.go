package mirror

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockStore_ExclusiveOnSameName(t *testing.T) {
	ls := NewLockStore()
	spec := LockSpec{Names: []ParentName{{Parent: "root", Name: "a"}}}

	release, err := ls.Acquire(context.Background(), spec)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := ls.Acquire(context.Background(), spec)
		if err != nil {
			t.Errorf("Second acquire failed: %v", err)
			return
		}
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("Second acquire must wait for release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Second acquire did not proceed after release")
	}
}

func TestLockStore_DisjointSpecsDoNotBlock(t *testing.T) {
	ls := NewLockStore()
	r1, err := ls.Acquire(context.Background(), LockSpec{Files: []string{"f1"}})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := ls.Acquire(ctx, LockSpec{Files: []string{"f2"}, Dirs: []string{"d"}})
	if err != nil {
		t.Fatalf("Disjoint acquire blocked: %v", err)
	}
	r2()
}

func TestLockStore_CancelReleasesPartialLocks(t *testing.T) {
	ls := NewLockStore()
	holder, err := ls.Acquire(context.Background(), LockSpec{Files: []string{"busy"}})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = ls.Acquire(ctx, LockSpec{Dirs: []string{"d1"}, Files: []string{"busy"}})
	if err == nil {
		t.Fatal("Expected cancellation error")
	}

	// d1 must be free again
	r, err := ls.Acquire(context.Background(), LockSpec{Dirs: []string{"d1"}})
	if err != nil {
		t.Fatalf("Partial lock leaked: %v", err)
	}
	r()
	holder()

	if held := ls.Held(); held != 0 {
		t.Errorf("Expected no live lock entries, got %d", held)
	}
}

func TestLockStore_OrderingAvoidsDeadlock(t *testing.T) {
	ls := NewLockStore()
	a := LockSpec{Files: []string{"x", "y"}, Buckets: []uint32{BucketOf("d1"), BucketOf("d2")}}
	b := LockSpec{Files: []string{"y", "x"}, Buckets: []uint32{BucketOf("d2"), BucketOf("d1")}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		for _, spec := range []LockSpec{a, b} {
			go func(spec LockSpec) {
				defer wg.Done()
				r, err := ls.Acquire(ctx, spec)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				r()
			}(spec)
		}
	}
	wg.Wait()
}

func TestLockStore_ReleaseIsIdempotent(t *testing.T) {
	ls := NewLockStore()
	r, err := ls.Acquire(context.Background(), LockSpec{Dirs: []string{"d", "d"}})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	r()
	r()
	if ls.Held() != 0 {
		t.Errorf("Expected no live lock entries")
	}
}

func TestBucketOf(t *testing.T) {
	if BucketOf("abc") != BucketOf("abc") {
		t.Error("BucketOf must be deterministic")
	}
	if b := BucketOf("some-dir"); b >= DirBuckets {
		t.Errorf("Bucket %d out of range", b)
	}
	if !(LockSpec{}).IsEmpty() {
		t.Error("Zero spec should be empty")
	}
}
