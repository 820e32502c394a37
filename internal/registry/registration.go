package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/models"
)

const (
	leaseTTL         = 10 // seconds
	capacityInterval = 30 * time.Second
	reRegisterDelay  = 2 * time.Second
)

// NodeRegistration keeps the node record alive in etcd. The record is bound
// to a lease, so its disappearance is how peers learn the node is gone.
// Target mappings are written without a lease and survive restarts.
type NodeRegistration struct {
	etcdClient *clientv3.Client
	meta       metadata.Manager
	prefix     string
	logger     *logging.Logger
	scanner    *TargetScanner
	targets    []uint16

	mu       sync.Mutex
	leaseID  clientv3.LeaseID
	nodeInfo models.NodeInfo
}

// NewNodeRegistration creates a new node registration instance
func NewNodeRegistration(
	etcdClient *clientv3.Client,
	meta metadata.Manager,
	prefix string,
	nodeInfo models.NodeInfo,
	targets []uint16,
	scanner *TargetScanner,
	logger *logging.Logger,
) *NodeRegistration {
	return &NodeRegistration{
		etcdClient: etcdClient,
		meta:       meta,
		prefix:     prefix,
		nodeInfo:   nodeInfo,
		targets:    targets,
		scanner:    scanner,
		logger:     logger,
	}
}

// NodeInfo returns the last published record
func (r *NodeRegistration) NodeInfo() models.NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.nodeInfo
	info.Targets = append([]models.TargetInfo(nil), r.nodeInfo.Targets...)
	return info
}

// Register maps the configured targets to this node, publishes the node
// record under a fresh lease and starts the keep-alive loop
func (r *NodeRegistration) Register(ctx context.Context) error {
	r.logger.Info("Starting node registration", "node_id", r.nodeInfo.ID)

	if err := r.refreshInfo(); err != nil {
		return err
	}

	for _, targetID := range r.targets {
		if err := r.meta.MapTarget(ctx, targetID, r.nodeInfo.ID); err != nil {
			return fmt.Errorf("failed to map target %d: %w", targetID, err)
		}
	}

	lease, err := r.etcdClient.Grant(ctx, leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	r.mu.Lock()
	r.leaseID = lease.ID
	r.mu.Unlock()

	r.logger.Info("Lease created", "lease_id", int64(lease.ID), "ttl", leaseTTL)

	if err := r.publish(ctx); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}

	info := r.NodeInfo()
	r.logger.Info("Node registered successfully",
		"node_id", info.ID,
		"address", info.Address,
		"targets", len(r.targets))

	go r.keepAlive(ctx, lease.ID)
	return nil
}

// refreshInfo rescans local targets and disk capacity
func (r *NodeRegistration) refreshInfo() error {
	scanned, err := r.scanner.ScanTargets()
	if err != nil {
		return fmt.Errorf("failed to scan local targets: %w", err)
	}
	capacity, err := r.scanner.GetDiskCapacity()
	if err != nil {
		return fmt.Errorf("failed to get disk capacity: %w", err)
	}

	byID := make(map[uint16]models.TargetInfo, len(scanned))
	for _, t := range scanned {
		byID[t.TargetID] = t
	}
	infos := make([]models.TargetInfo, 0, len(r.targets))
	for _, id := range r.targets {
		t, ok := byID[id]
		if !ok {
			t = models.TargetInfo{TargetID: id}
		}
		infos = append(infos, t)
	}

	r.mu.Lock()
	r.nodeInfo.Targets = infos
	r.nodeInfo.Capacity = *capacity
	r.nodeInfo.UpdatedAt = time.Now()
	r.mu.Unlock()
	return nil
}

func (r *NodeRegistration) publish(ctx context.Context) error {
	r.mu.Lock()
	leaseID := r.leaseID
	data, err := json.Marshal(r.nodeInfo)
	id := r.nodeInfo.ID
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal node info: %w", err)
	}

	_, err = r.etcdClient.Put(ctx, metadata.NodeKey(r.prefix, id), string(data), clientv3.WithLease(leaseID))
	return err
}

// keepAlive maintains the lease and periodically republishes capacity
func (r *NodeRegistration) keepAlive(ctx context.Context, leaseID clientv3.LeaseID) {
	r.logger.Info("Starting keep-alive loop", "lease_id", int64(leaseID))
	ch, err := r.etcdClient.KeepAlive(ctx, leaseID)
	if err != nil {
		r.logger.Error("Failed to start keep-alive", "error", err)
		return
	}

	ticker := time.NewTicker(capacityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Keep-alive stopped (context done)")
			return

		case ka, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("Keep-alive channel closed, attempting re-registration")
				select {
				case <-time.After(reRegisterDelay):
				case <-ctx.Done():
					return
				}
				if err := r.Register(ctx); err != nil {
					r.logger.Error("Failed to re-register", "error", err)
				}
				return
			}
			if ka == nil {
				r.logger.Warn("Received nil keep-alive response")
				continue
			}
			r.logger.Debug("Heartbeat sent", "lease_id", int64(leaseID), "ttl", ka.TTL)

		case <-ticker.C:
			if err := r.Update(ctx); err != nil {
				r.logger.Error("Failed to update node info", "error", err)
			}
		}
	}
}

// Update rescans the local targets and republishes the node record
func (r *NodeRegistration) Update(ctx context.Context) error {
	if err := r.refreshInfo(); err != nil {
		return err
	}
	if err := r.publish(ctx); err != nil {
		return err
	}
	r.logger.Debug("Node info updated", "targets", len(r.targets))
	return nil
}

// Deregister removes the node record and revokes the lease
func (r *NodeRegistration) Deregister(ctx context.Context) error {
	r.mu.Lock()
	id, leaseID := r.nodeInfo.ID, r.leaseID
	r.leaseID = 0
	r.mu.Unlock()

	r.logger.Info("Deregistering node", "node_id", id)

	_, err := r.etcdClient.Delete(ctx, metadata.NodeKey(r.prefix, id))
	if err != nil {
		r.logger.Error("Failed to delete node key", "error", err)
	}

	if leaseID != 0 {
		if _, rerr := r.etcdClient.Revoke(ctx, leaseID); rerr != nil {
			r.logger.Error("Failed to revoke lease", "error", rerr)
		}
	}

	r.logger.Info("Node deregistered successfully", "node_id", id)
	return err
}
