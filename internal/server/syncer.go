package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

// InternodeSyncer periodically pulls the topology and consistency states
// from the coordinator, refreshes the reachability of targets whose node
// is registered and lets the resyncer react to buddies needing a resync.
type InternodeSyncer struct {
	node           *Node
	interval       time.Duration
	offlineTimeout time.Duration
	logger         *logging.Logger

	mu       sync.Mutex
	lastSync time.Time
	lastErr  error

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewInternodeSyncer creates a syncer for n
func NewInternodeSyncer(n *Node, interval, offlineTimeout time.Duration, logger *logging.Logger) *InternodeSyncer {
	if interval <= 0 {
		interval = utils.DefaultSyncInterval
	}
	if offlineTimeout <= 0 {
		offlineTimeout = utils.DefaultTargetOfflineTimeout
	}
	return &InternodeSyncer{
		node:           n,
		interval:       interval,
		offlineTimeout: offlineTimeout,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start runs the sync loop in the background
func (s *InternodeSyncer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.logger.Info("Starting internode syncer",
			"interval", s.interval,
			"offline_timeout", s.offlineTimeout)
		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Stop ends the loop and waits for a running round
func (s *InternodeSyncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

func (s *InternodeSyncer) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Warn("Internode sync failed", "error", err)
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SyncOnce performs one round. Reachability decays even when the
// coordinator cannot be reached.
func (s *InternodeSyncer) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.node
	topo := n.topo

	loadCtx, cancel := context.WithTimeout(ctx, utils.CoordinatorTimeout)
	loadErr := metadata.LoadTopology(loadCtx, n.meta, topo)
	cancel()

	if loadErr == nil {
		for targetID, nodeID := range topo.Targets.All() {
			if _, alive := topo.Nodes.Get(nodeID); alive {
				topo.States.Refresh(targetID)
			}
		}
	}
	for _, id := range n.TargetIDs() {
		topo.States.Refresh(id)
	}
	topo.States.DecayReachability(s.offlineTimeout)

	var checkErr error
	if loadErr == nil {
		checkErr = n.resyncer.CheckBuddyNeedsResync(ctx)
	}

	err := errors.Join(wrap("load topology", loadErr), wrap("check buddies", checkErr))
	s.lastSync = time.Now()
	s.lastErr = err
	if err == nil {
		s.logger.Debug("Internode sync completed",
			"nodes", len(topo.Nodes.List()),
			"groups", len(topo.Groups.List()))
	}
	return err
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// LastSync returns the time and outcome of the last round
func (s *InternodeSyncer) LastSync() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.lastErr
}
