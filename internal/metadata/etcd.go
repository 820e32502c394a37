package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
)

const cacheTTL = 5 * time.Second

// EtcdManager implements Manager using etcd
type EtcdManager struct {
	records
	client     *clientv3.Client
	cache      *KVCache
	ownsClient bool
}

// NewEtcdManager connects to etcd and creates a manager
func NewEtcdManager(cfg config.EtcdConfig) (*EtcdManager, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	m := NewEtcdManagerWithClient(client, cfg.Prefix)
	m.ownsClient = true
	return m, nil
}

// NewEtcdManagerWithClient creates a manager on an existing client. The
// client stays open on Close.
func NewEtcdManagerWithClient(client *clientv3.Client, prefix string) *EtcdManager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	m := &EtcdManager{
		client: client,
		cache:  NewKVCache(cacheTTL),
	}
	m.records = records{kv: m, prefix: strings.TrimSuffix(prefix, "/")}
	return m
}

// Client returns the underlying etcd client
func (m *EtcdManager) Client() *clientv3.Client {
	return m.client
}

// ============================================================================
// Key-value operations
// ============================================================================

func (m *EtcdManager) Get(ctx context.Context, key string) (string, error) {
	if cached, ok := m.cache.Get(key); ok {
		return cached, nil
	}

	resp, err := m.client.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get %s from etcd: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	value := string(resp.Kvs[0].Value)
	m.cache.Set(key, value)
	return value, nil
}

func (m *EtcdManager) Put(ctx context.Context, key, value string) error {
	if _, err := m.client.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put %s to etcd: %w", key, err)
	}
	m.cache.Set(key, value)
	return nil
}

func (m *EtcdManager) Delete(ctx context.Context, key string) error {
	if _, err := m.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s from etcd: %w", key, err)
	}
	m.cache.Delete(key)
	return nil
}

func (m *EtcdManager) GetPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := m.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to get prefix %s from etcd: %w", prefix, err)
	}

	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out, nil
}

func (m *EtcdManager) compareAndSwap(ctx context.Context, key, old, value string) error {
	resp, err := m.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", old)).
		Then(clientv3.OpPut(key, value)).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to update %s in etcd: %w", key, err)
	}
	m.cache.Delete(key)
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", ErrConflict, key)
	}
	return nil
}

// Watch streams changed keys under the prefix and drops them from the cache
func (m *EtcdManager) Watch(ctx context.Context) <-chan string {
	out := make(chan string, 64)
	wch := m.client.Watch(ctx, m.prefix+"/", clientv3.WithPrefix())

	go func() {
		defer close(out)
		for wr := range wch {
			if err := wr.Err(); err != nil {
				return
			}
			for _, ev := range wr.Events {
				key := string(ev.Kv.Key)
				m.cache.Delete(key)
				select {
				case out <- key:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ============================================================================
// Lifecycle
// ============================================================================

func (m *EtcdManager) Close() error {
	if m.cache != nil {
		m.cache.Stop()
	}
	if !m.ownsClient {
		return nil
	}
	return m.client.Close()
}
