package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
)

// RootID is the id of the namespace root directory
const RootID = "root"

// Result is the outcome code of a namespace operation
type Result int32

const (
	OK Result = iota
	Exists
	NotFound
	NotEmpty
	NotADir
	IsADir
	Invalid
	Internal
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Exists:
		return "exists"
	case NotFound:
		return "not-found"
	case NotEmpty:
		return "not-empty"
	case NotADir:
		return "not-a-dir"
	case IsADir:
		return "is-a-dir"
	case Invalid:
		return "invalid"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("result(%d)", int32(r))
	}
}

// Entry is a directory or file
type Entry struct {
	ID       string    `json:"id"`
	ParentID string    `json:"parent_id"`
	Name     string    `json:"name"`
	IsDir    bool      `json:"is_dir"`
	Mode     uint32    `json:"mode"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Data     []byte    `json:"data,omitempty"`
}

func (e *Entry) clone() Entry {
	c := *e
	if e.Data != nil {
		c.Data = append([]byte(nil), e.Data...)
	}
	return c
}

// dentry orders entries by (parent, name) for directory listings
type dentry struct {
	parent string
	name   string
	id     string
}

func dentryLess(a, b dentry) bool {
	if a.parent != b.parent {
		return a.parent < b.parent
	}
	return a.name < b.name
}

// Namespace is an in-memory directory tree
type Namespace struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	index   *btree.BTreeG[dentry]
	now     func() time.Time
}

// NewNamespace creates a namespace holding only the root directory
func NewNamespace() *Namespace {
	ns := &Namespace{
		entries: make(map[string]*Entry),
		index:   btree.NewG[dentry](16, dentryLess),
		now:     time.Now,
	}
	ns.entries[RootID] = &Entry{ID: RootID, IsDir: true, Mode: 0o755, ModTime: ns.now()}
	return ns
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// lookupLocked resolves (parent, name) to an entry
func (ns *Namespace) lookupLocked(parentID, name string) (*Entry, bool) {
	d, ok := ns.index.Get(dentry{parent: parentID, name: name})
	if !ok {
		return nil, false
	}
	e, ok := ns.entries[d.id]
	return e, ok
}

func (ns *Namespace) dirLocked(id string) (*Entry, Result) {
	dir, ok := ns.entries[id]
	if !ok {
		return nil, NotFound
	}
	if !dir.IsDir {
		return nil, NotADir
	}
	return dir, OK
}

func (ns *Namespace) hasChildrenLocked(dirID string) bool {
	found := false
	ns.index.AscendGreaterOrEqual(dentry{parent: dirID}, func(d dentry) bool {
		found = d.parent == dirID
		return false
	})
	return found
}

func (ns *Namespace) insertLocked(e *Entry) {
	ns.entries[e.ID] = e
	if e.ID != RootID {
		ns.index.ReplaceOrInsert(dentry{parent: e.ParentID, name: e.Name, id: e.ID})
	}
}

func (ns *Namespace) removeLocked(e *Entry) {
	delete(ns.entries, e.ID)
	if d, ok := ns.index.Get(dentry{parent: e.ParentID, name: e.Name}); ok && d.id == e.ID {
		ns.index.Delete(d)
	}
}

func (ns *Namespace) create(parentID, name, id string, mode uint32, isDir bool) Result {
	if !validName(name) || id == "" {
		return Invalid
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	parent, res := ns.dirLocked(parentID)
	if res != OK {
		return res
	}
	if _, ok := ns.lookupLocked(parentID, name); ok {
		return Exists
	}
	if _, ok := ns.entries[id]; ok {
		return Exists
	}
	now := ns.now()
	ns.insertLocked(&Entry{ID: id, ParentID: parentID, Name: name, IsDir: isDir, Mode: mode, ModTime: now})
	parent.ModTime = now
	return OK
}

// Mkdir creates a directory with a caller-chosen id
func (ns *Namespace) Mkdir(parentID, name, id string, mode uint32) Result {
	return ns.create(parentID, name, id, mode, true)
}

// Create creates an empty file with a caller-chosen id
func (ns *Namespace) Create(parentID, name, id string, mode uint32) Result {
	return ns.create(parentID, name, id, mode, false)
}

// Rmdir removes an empty directory
func (ns *Namespace) Rmdir(parentID, name string) Result {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, ok := ns.lookupLocked(parentID, name)
	if !ok {
		return NotFound
	}
	if !e.IsDir {
		return NotADir
	}
	if ns.hasChildrenLocked(e.ID) {
		return NotEmpty
	}
	ns.removeLocked(e)
	if parent, ok := ns.entries[parentID]; ok {
		parent.ModTime = ns.now()
	}
	return OK
}

// Unlink removes a file and returns its id
func (ns *Namespace) Unlink(parentID, name string) (string, Result) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, ok := ns.lookupLocked(parentID, name)
	if !ok {
		return "", NotFound
	}
	if e.IsDir {
		return "", IsADir
	}
	ns.removeLocked(e)
	if parent, ok := ns.entries[parentID]; ok {
		parent.ModTime = ns.now()
	}
	return e.ID, OK
}

func (ns *Namespace) fileLocked(id string) (*Entry, Result) {
	e, ok := ns.entries[id]
	if !ok {
		return nil, NotFound
	}
	if e.IsDir {
		return nil, IsADir
	}
	return e, OK
}

// Write stores data at offset, growing the file as needed
func (ns *Namespace) Write(id string, offset int64, data []byte) (int64, Result) {
	if offset < 0 {
		return 0, Invalid
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, res := ns.fileLocked(id)
	if res != OK {
		return 0, res
	}
	end := offset + int64(len(data))
	if end > int64(len(e.Data)) {
		grown := make([]byte, end)
		copy(grown, e.Data)
		e.Data = grown
	}
	copy(e.Data[offset:], data)
	e.Size = int64(len(e.Data))
	e.ModTime = ns.now()
	return e.Size, OK
}

// Truncate sets the file size
func (ns *Namespace) Truncate(id string, size int64) Result {
	if size < 0 {
		return Invalid
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, res := ns.fileLocked(id)
	if res != OK {
		return res
	}
	switch {
	case size < int64(len(e.Data)):
		e.Data = e.Data[:size:size]
	case size > int64(len(e.Data)):
		grown := make([]byte, size)
		copy(grown, e.Data)
		e.Data = grown
	}
	e.Size = size
	e.ModTime = ns.now()
	return OK
}

// Rename moves an entry. An existing target name is refused. The moved
// entry counts as modified, like both parents.
func (ns *Namespace) Rename(srcParent, srcName, dstParent, dstName string) Result {
	if !validName(dstName) {
		return Invalid
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, ok := ns.lookupLocked(srcParent, srcName)
	if !ok {
		return NotFound
	}
	dst, res := ns.dirLocked(dstParent)
	if res != OK {
		return res
	}
	if _, ok := ns.lookupLocked(dstParent, dstName); ok {
		return Exists
	}
	if e.IsDir && ns.isAncestorLocked(e.ID, dstParent) {
		return Invalid
	}

	ns.removeLocked(e)
	e.ParentID = dstParent
	e.Name = dstName
	ns.insertLocked(e)

	now := ns.now()
	e.ModTime = now
	dst.ModTime = now
	if src, ok := ns.entries[srcParent]; ok {
		src.ModTime = now
	}
	return OK
}

// isAncestorLocked reports whether ancestor is id or one of its parents
func (ns *Namespace) isAncestorLocked(ancestor, id string) bool {
	for cur := id; cur != ""; {
		if cur == ancestor {
			return true
		}
		e, ok := ns.entries[cur]
		if !ok || cur == RootID {
			return false
		}
		cur = e.ParentID
	}
	return false
}

// SetAttr changes the mode bits
func (ns *Namespace) SetAttr(id string, mode uint32) Result {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	e, ok := ns.entries[id]
	if !ok {
		return NotFound
	}
	e.Mode = mode
	e.ModTime = ns.now()
	return OK
}

// Lookup resolves a name inside a directory
func (ns *Namespace) Lookup(parentID, name string) (Entry, Result) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	e, ok := ns.lookupLocked(parentID, name)
	if !ok {
		return Entry{}, NotFound
	}
	return e.clone(), OK
}

// Get returns a copy of an entry
func (ns *Namespace) Get(id string) (Entry, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	e, ok := ns.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Children returns the entries of a directory ordered by name
func (ns *Namespace) Children(dirID string) []Entry {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var out []Entry
	ns.index.AscendGreaterOrEqual(dentry{parent: dirID}, func(d dentry) bool {
		if d.parent != dirID {
			return false
		}
		if e, ok := ns.entries[d.id]; ok {
			out = append(out, e.clone())
		}
		return true
	})
	return out
}

// Len returns the number of entries including the root
func (ns *Namespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.entries)
}

// Walk visits every entry with parents before children. Returning an
// error from fn stops the walk.
func (ns *Namespace) Walk(fn func(Entry) error) error {
	queue := []string{RootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		e, ok := ns.Get(id)
		if !ok {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
		if !e.IsDir {
			continue
		}
		for _, c := range ns.Children(id) {
			queue = append(queue, c.ID)
		}
	}
	return nil
}

// ModifiedSince lists ids of entries changed at or after t, parents first
func (ns *Namespace) ModifiedSince(t time.Time) []string {
	var ids []string
	_ = ns.Walk(func(e Entry) error {
		if !e.ModTime.Before(t) {
			ids = append(ids, e.ID)
		}
		return nil
	})
	return ids
}

// Put inserts or overwrites an entry verbatim, moving it if its
// (parent, name) changed. A different entry holding the target name is
// removed first.
func (ns *Namespace) Put(e Entry) Result {
	if e.ID == "" {
		return Invalid
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if e.ID == RootID {
		root := ns.entries[RootID]
		root.Mode = e.Mode
		root.ModTime = e.ModTime
		return OK
	}
	if _, res := ns.dirLocked(e.ParentID); res != OK {
		return res
	}
	if other, ok := ns.lookupLocked(e.ParentID, e.Name); ok && other.ID != e.ID {
		ns.deleteTreeLocked(other)
	}
	if old, ok := ns.entries[e.ID]; ok {
		if old.IsDir && !e.IsDir {
			ns.deleteTreeLocked(old)
		} else {
			ns.removeLocked(old)
		}
	}
	c := e.clone()
	if !c.IsDir {
		c.Size = int64(len(c.Data))
	}
	ns.insertLocked(&c)
	return OK
}

// Delete removes an entry and, for directories, everything below it
func (ns *Namespace) Delete(id string) Result {
	if id == RootID {
		return Invalid
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	e, ok := ns.entries[id]
	if !ok {
		return NotFound
	}
	ns.deleteTreeLocked(e)
	return OK
}

func (ns *Namespace) deleteTreeLocked(e *Entry) {
	if e.IsDir {
		var children []string
		ns.index.AscendGreaterOrEqual(dentry{parent: e.ID}, func(d dentry) bool {
			if d.parent != e.ID {
				return false
			}
			children = append(children, d.id)
			return true
		})
		for _, id := range children {
			if c, ok := ns.entries[id]; ok {
				ns.deleteTreeLocked(c)
			}
		}
	}
	ns.removeLocked(e)
}

// Entries returns copies of all entries ordered by id
func (ns *Namespace) Entries() []Entry {
	ns.mu.RLock()
	out := make([]Entry, 0, len(ns.entries))
	for _, e := range ns.entries {
		out = append(out, e.clone())
	}
	ns.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
