package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryManager keeps the metadata in process. It backs single-node
// setups and tests.
type MemoryManager struct {
	records

	mu       sync.RWMutex
	data     map[string]string
	watchers map[chan string]struct{}
	closed   bool
}

// NewMemoryManager creates an empty manager
func NewMemoryManager(prefix string) *MemoryManager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	m := &MemoryManager{
		data:     make(map[string]string),
		watchers: make(map[chan string]struct{}),
	}
	m.records = records{kv: m, prefix: strings.TrimSuffix(prefix, "/")}
	return m
}

func (m *MemoryManager) notifyLocked(key string) {
	if !strings.HasPrefix(key, m.prefix+"/") {
		return
	}
	for ch := range m.watchers {
		select {
		case ch <- key:
		default:
		}
	}
}

func (m *MemoryManager) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

func (m *MemoryManager) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.notifyLocked(key)
	return nil
}

func (m *MemoryManager) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		m.notifyLocked(key)
	}
	return nil
}

func (m *MemoryManager) GetPrefix(_ context.Context, prefix string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryManager) compareAndSwap(_ context.Context, key, old, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.data[key]; !ok || cur != old {
		return fmt.Errorf("%w: %s", ErrConflict, key)
	}
	m.data[key] = value
	m.notifyLocked(key)
	return nil
}

// Watch streams changed keys; a slow reader misses events rather than
// blocking writers
func (m *MemoryManager) Watch(ctx context.Context) <-chan string {
	ch := make(chan string, 64)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
		m.mu.Unlock()
	})
	return ch
}

func (m *MemoryManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for ch := range m.watchers {
		close(ch)
	}
	m.watchers = make(map[chan string]struct{})
	return nil
}
