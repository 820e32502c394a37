package metadata

import (
	"sync"
	"testing"
	"time"
)

func TestKVCache_SetGetDelete(t *testing.T) {
	cache := NewKVCache(time.Second)
	defer cache.Stop()

	cache.Set("/beegfs/mirror/states/3", "good")
	value, ok := cache.Get("/beegfs/mirror/states/3")
	if !ok || value != "good" {
		t.Fatalf("Expected cached value, got %q, %v", value, ok)
	}

	cache.Delete("/beegfs/mirror/states/3")
	if _, ok := cache.Get("/beegfs/mirror/states/3"); ok {
		t.Error("Expected deleted key to be gone")
	}
}

func TestKVCache_Expiration(t *testing.T) {
	cache := NewKVCache(50 * time.Millisecond)
	defer cache.Stop()

	cache.Set("key", "value")
	time.Sleep(80 * time.Millisecond)

	if _, ok := cache.Get("key"); ok {
		t.Error("Expected key to expire")
	}
}

func TestKVCache_DeletePrefix(t *testing.T) {
	cache := NewKVCache(time.Second)
	defer cache.Stop()

	cache.Set("/beegfs/mirror/groups/1", "a")
	cache.Set("/beegfs/mirror/groups/2", "b")
	cache.Set("/beegfs/mirror/states/1", "good")

	cache.DeletePrefix("/beegfs/mirror/groups/")

	if _, ok := cache.Get("/beegfs/mirror/groups/1"); ok {
		t.Error("Expected groups/1 to be deleted")
	}
	if _, ok := cache.Get("/beegfs/mirror/groups/2"); ok {
		t.Error("Expected groups/2 to be deleted")
	}
	if value, ok := cache.Get("/beegfs/mirror/states/1"); !ok || value != "good" {
		t.Errorf("Expected states/1 to survive, got %q, %v", value, ok)
	}

	cache.Clear()
	if _, ok := cache.Get("/beegfs/mirror/states/1"); ok {
		t.Error("Expected Clear to drop everything")
	}
}

func TestKVCache_Stats(t *testing.T) {
	cache := NewKVCache(time.Second)
	defer cache.Stop()

	cache.Set("a", "1")
	cache.Set("b", "2")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	if stats.Entries != 2 {
		t.Errorf("Expected 2 entries, got %d", stats.Entries)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", stats.Hits, stats.Misses)
	}
	if stats.TTL != 1 {
		t.Errorf("Expected ttl 1s, got %v", stats.TTL)
	}
}

func TestKVCache_ConcurrentAccess(t *testing.T) {
	cache := NewKVCache(time.Second)
	defer cache.Stop()
	cache.Stop()

	var wg sync.WaitGroup
	for _, fn := range []func(){
		func() { cache.Set("key", "value") },
		func() { cache.Get("key") },
		func() { cache.Delete("key") },
	} {
		wg.Add(1)
		go func(fn func()) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fn()
			}
		}(fn)
	}
	wg.Wait()
}
