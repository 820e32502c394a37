package resync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MarkerFileName holds the time the buddy first missed a write
const MarkerFileName = "buddy_needs_resync"

// Marker persists that a primary's buddy fell behind, and since when
type Marker struct {
	mu   sync.Mutex
	path string
}

// NewMarker returns the marker stored in dir
func NewMarker(dir string) *Marker {
	return &Marker{path: filepath.Join(dir, MarkerFileName)}
}

// Set records t unless a marker already exists; the first miss wins
func (m *Marker) Set(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(t.Unix(), 10)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// Get returns the recorded time and whether a marker exists
func (m *Marker) Get() (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("parse marker %s: %w", m.path, err)
	}
	return time.Unix(secs, 0), true, nil
}

// Clear removes the marker
func (m *Marker) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
