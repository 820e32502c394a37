package mirror

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
)

// DirBuckets is the number of directory hash buckets
const DirBuckets = 1024

// ParentName identifies a name inside a directory
type ParentName struct {
	Parent string
	Name   string
}

// LockSpec lists what an operation must hold exclusively. Levels are
// acquired coarse to fine: buckets, dirs, parent names, files.
type LockSpec struct {
	Buckets []uint32
	Dirs    []string
	Names   []ParentName
	Files   []string
}

// IsEmpty reports whether nothing needs locking
func (s LockSpec) IsEmpty() bool {
	return len(s.Buckets) == 0 && len(s.Dirs) == 0 && len(s.Names) == 0 && len(s.Files) == 0
}

// BucketOf hashes a directory id into its bucket
func BucketOf(dirID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(dirID))
	return h.Sum32() % DirBuckets
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// keyedLocks is a table of cancellable mutexes created on demand
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

func (k *keyedLocks) acquire(ctx context.Context, key string) error {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.unref(key, e)
		return ctx.Err()
	}
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	e := k.locks[key]
	k.mu.Unlock()
	<-e.ch
	k.unref(key, e)
}

func (k *keyedLocks) unref(key string, e *lockEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// LockStore hands out exclusive locks in a global order so that two
// operations can never wait on each other.
type LockStore struct {
	levels [4]*keyedLocks
}

// NewLockStore creates an empty lock store
func NewLockStore() *LockStore {
	ls := &LockStore{}
	for i := range ls.levels {
		ls.levels[i] = newKeyedLocks()
	}
	return ls
}

func sortedUnique(keys []string) []string {
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}

// keys flattens a spec into per-level key lists in acquisition order
func (s LockSpec) keys() [4][]string {
	var out [4][]string
	for _, b := range s.Buckets {
		// fixed width keeps string order equal to numeric order
		out[0] = append(out[0], string([]byte{byte(b >> 24), byte(b >> 16), byte(b >> 8), byte(b)}))
	}
	out[1] = append(out[1], s.Dirs...)
	for _, n := range s.Names {
		out[2] = append(out[2], n.Parent+"\x00"+n.Name)
	}
	out[3] = append(out[3], s.Files...)
	for i := range out {
		out[i] = sortedUnique(out[i])
	}
	return out
}

// Acquire locks everything in spec and returns the release function.
// On cancellation all partial locks are dropped.
func (ls *LockStore) Acquire(ctx context.Context, spec LockSpec) (func(), error) {
	type held struct {
		level int
		key   string
	}
	var acquired []held

	releaseAll := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			ls.levels[acquired[i].level].release(acquired[i].key)
		}
	}

	for level, keys := range spec.keys() {
		for _, key := range keys {
			if err := ls.levels[level].acquire(ctx, key); err != nil {
				releaseAll()
				return nil, err
			}
			acquired = append(acquired, held{level: level, key: key})
		}
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

// Held returns the number of live lock entries, for tests and debugging
func (ls *LockStore) Held() int {
	n := 0
	for _, l := range ls.levels {
		n += l.size()
	}
	return n
}
