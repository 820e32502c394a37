package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/resync"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
)

func TestInternodeSyncer_Reachability(t *testing.T) {
	ctx := context.Background()
	meta := metadata.NewMemoryManager("")
	n := startNode(t, meta, testConfig(t, 1, 101))

	// target 301 belongs to a node that never registered
	require.NoError(t, meta.MapTarget(ctx, 301, 9))
	require.NoError(t, meta.SetConsistency(ctx, 301, nodes.Good))
	require.NoError(t, meta.SetConsistency(ctx, 101, nodes.Good))

	require.NoError(t, n.Syncer().SyncOnce(ctx))

	local, ok := n.Topology().States.Get(101)
	require.True(t, ok)
	assert.Equal(t, nodes.Online, local.Reachability)

	remote, ok := n.Topology().States.Get(301)
	require.True(t, ok)
	assert.Equal(t, nodes.Offline, remote.Reachability)

	last, err := n.Syncer().LastSync()
	assert.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestInternodeSyncer_AppliesCoordinatorState(t *testing.T) {
	ctx := context.Background()
	meta := metadata.NewMemoryManager("")
	n := startNode(t, meta, testConfig(t, 1, 101))

	require.NoError(t, meta.SetConsistency(ctx, 101, nodes.Bad))
	require.NoError(t, n.Syncer().SyncOnce(ctx))

	st, _ := n.Topology().States.Get(101)
	assert.Equal(t, nodes.Bad, st.Consistency)
}

func TestInternodeSyncer_StartsResyncForNeedsResyncBuddy(t *testing.T) {
	ctx := context.Background()
	meta, primary, secondary := buddyPair(t)

	// while the buddy needs a resync, writes are not mirrored
	require.NoError(t, meta.SetConsistency(ctx, 201, nodes.NeedsResync))
	primary.Topology().States.SetConsistency(201, nodes.NeedsResync)
	_, err := primary.Dispatch(ctx, mkdirFrame(101, "before-resync"))
	require.NoError(t, err)
	sec, ok := secondary.Target(201)
	require.True(t, ok)
	_, res := sec.Executor.Namespace().Lookup(store.RootID, "before-resync")
	require.Equal(t, store.NotFound, res)

	require.NoError(t, primary.Syncer().SyncOnce(ctx))

	job, ok := primary.Resyncer().Job(1)
	require.True(t, ok, "a job should have been started for group 1")
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Resync job did not finish")
	}
	assert.Equal(t, resync.StateSuccess, job.State())

	stored, err := meta.GetConsistency(ctx, 201)
	require.NoError(t, err)
	assert.Equal(t, nodes.Good, stored)

	_, res = sec.Executor.Namespace().Lookup(store.RootID, "before-resync")
	assert.Equal(t, store.OK, res, "entry should exist on the secondary")

	st, _ := secondary.Topology().States.Get(201)
	assert.Equal(t, nodes.Good, st.Consistency)
}

type failingManager struct {
	metadata.Manager
	calls int
}

func (m *failingManager) SetConsistency(context.Context, uint16, nodes.ConsistencyState) error {
	m.calls++
	return errors.New("coordinator unavailable")
}

func TestCoordinatorReporter(t *testing.T) {
	ctx := context.Background()
	meta := metadata.NewMemoryManager("")
	r := NewCoordinatorReporter(meta, time.Second, logging.NewNop())

	require.NoError(t, r.SetConsistency(ctx, 7, nodes.NeedsResync))
	state, err := meta.GetConsistency(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, nodes.NeedsResync, state)

	failing := &failingManager{Manager: meta}
	r = NewCoordinatorReporter(failing, 300*time.Millisecond, logging.NewNop())
	assert.Error(t, r.SetConsistency(ctx, 7, nodes.Good))
	assert.Greater(t, failing.calls, 1, "transient failures should be retried")
}
