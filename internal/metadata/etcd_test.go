package metadata

import (
	"context"
	"net/url"
	"testing"
	"time"

	"go.etcd.io/etcd/server/v3/embed"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
)

// setupTestEtcd creates an embedded etcd server for testing
func setupTestEtcd(t *testing.T) []string {
	t.Helper()

	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()

	clientURL, _ := url.Parse("http://127.0.0.1:0")
	peerURL, _ := url.Parse("http://127.0.0.1:0")
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.LogLevel = "error"
	cfg.Logger = "zap"

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		t.Fatalf("Failed to start etcd: %v", err)
	}
	t.Cleanup(e.Close)

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		t.Fatal("Etcd server took too long to start")
	}
	return []string{e.Clients[0].Addr().String()}
}

func newTestEtcdManager(t *testing.T) *EtcdManager {
	t.Helper()
	m, err := NewEtcdManager(config.EtcdConfig{
		Endpoints:   setupTestEtcd(t),
		DialTimeout: 5 * time.Second,
		Prefix:      "/test/mirror",
	})
	if err != nil {
		t.Fatalf("Failed to create EtcdManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestEtcdManager(t *testing.T) {
	exerciseManager(t, newTestEtcdManager(t))
}

func TestEtcdManager_CacheAndWatch(t *testing.T) {
	m := newTestEtcdManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.SetConsistency(ctx, 9, nodes.Good); err != nil {
		t.Fatalf("SetConsistency failed: %v", err)
	}
	if _, err := m.GetConsistency(ctx, 9); err != nil {
		t.Fatalf("GetConsistency failed: %v", err)
	}
	if m.cache.Stats().Hits == 0 {
		t.Error("Expected a cache hit after a write")
	}

	events := m.Watch(ctx)
	time.Sleep(100 * time.Millisecond)

	// a second writer bypasses this manager's cache
	other := NewEtcdManagerWithClient(m.Client(), "/test/mirror")
	defer func() { _ = other.Close() }()
	if err := other.SetConsistency(ctx, 9, nodes.Bad); err != nil {
		t.Fatalf("SetConsistency failed: %v", err)
	}

	select {
	case key := <-events:
		if key != "/test/mirror/states/9" {
			t.Errorf("Unexpected key %s", key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No watch event")
	}

	state, err := m.GetConsistency(ctx, 9)
	if err != nil {
		t.Fatalf("GetConsistency failed: %v", err)
	}
	if state != nodes.Bad {
		t.Errorf("Watch should have invalidated the cache, got %v", state)
	}
}

func TestNewEtcdManager_InvalidEndpoints(t *testing.T) {
	m, err := NewEtcdManager(config.EtcdConfig{Endpoints: []string{"invalid-endpoint:12345"}, DialTimeout: time.Second})
	if err != nil {
		return
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.ListGroups(ctx); err == nil {
		t.Error("Expected error when performing operation with invalid endpoints")
	}
}
