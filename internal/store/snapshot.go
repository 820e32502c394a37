package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
)

const snapshotFile = "namespace.snap"

type snapshot struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// SaveSnapshot writes the namespace to dir as snappy-compressed JSON.
// The file is replaced atomically.
func (ns *Namespace) SaveSnapshot(dir string) error {
	raw, err := json.Marshal(snapshot{Version: 1, Entries: ns.Entries()})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, snappy.Encode(nil, raw), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a namespace saved by SaveSnapshot. A missing
// snapshot yields an empty namespace.
func LoadSnapshot(dir string) (*Namespace, error) {
	ns := NewNamespace()

	compressed, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if os.IsNotExist(err) {
		return ns, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress failed: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	for i := range snap.Entries {
		e := snap.Entries[i]
		ns.insertLocked(&e)
	}
	return ns, nil
}
