package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metadata"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/ops"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/transport"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() ([]string, [][]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...), append([][]byte(nil), p.payloads...)
}

func testConfig(t *testing.T, nodeID uint16, targets ...uint16) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.GRPCPort = 0
	cfg.Node.NodeID = nodeID
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.Targets = targets
	cfg.Mirror.WorkerCount = 4
	cfg.Mirror.NumResyncSlaves = 2
	cfg.Mirror.RPCTimeout = 2 * time.Second
	cfg.Mirror.RPCRetryInterval = 10 * time.Millisecond
	cfg.Mirror.SyncInterval = time.Hour
	return cfg
}

func startNode(t *testing.T, meta metadata.Manager, cfg *config.Config) *Node {
	t.Helper()
	n, err := NewNode(Deps{Config: cfg, Metadata: meta, Logger: logging.NewNop()})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Stop)

	require.NoError(t, meta.PutNode(context.Background(), nodes.Node{ID: cfg.Node.NodeID, Address: n.Addr()}))
	for _, id := range cfg.Node.Targets {
		require.NoError(t, meta.MapTarget(context.Background(), id, cfg.Node.NodeID))
	}
	return n
}

// buddyPair starts two nodes forming group 1 with primary 101 on node 1
// and secondary 201 on node 2
func buddyPair(t *testing.T) (metadata.Manager, *Node, *Node) {
	t.Helper()
	ctx := context.Background()
	meta := metadata.NewMemoryManager("")

	primary := startNode(t, meta, testConfig(t, 1, 101))
	secondary := startNode(t, meta, testConfig(t, 2, 201))

	require.NoError(t, meta.PutGroup(ctx, nodes.MirrorGroup{ID: 1, Primary: 101, Secondary: 201}))
	require.NoError(t, meta.SetConsistency(ctx, 101, nodes.Good))
	require.NoError(t, meta.SetConsistency(ctx, 201, nodes.Good))

	require.NoError(t, primary.Syncer().SyncOnce(ctx))
	require.NoError(t, secondary.Syncer().SyncOnce(ctx))
	return meta, primary, secondary
}

func mkdirFrame(target uint16, name string) *wire.Frame {
	var h wire.Header
	h.TargetID = target
	h.SessionID = 42
	return wire.NewFrame(&ops.MkDir{ParentID: store.RootID, Name: name, Mode: 0o755}, h)
}

func TestNode_MirrorsOperationToSecondary(t *testing.T) {
	_, primary, secondary := buddyPair(t)

	client := transport.NewClient(nodes.NewTopology(), transport.ClientConfig{Timeout: 2 * time.Second}, logging.NewNop())
	defer client.Close()

	resp, err := client.Call(context.Background(), primary.Addr(), mkdirFrame(101, "projects"), wire.MsgOpResponse)
	require.NoError(t, err)
	op, err := transport.CheckResult(resp)
	require.NoError(t, err)
	require.NotEmpty(t, op.EntryID)

	pt, ok := primary.Target(101)
	require.True(t, ok)
	entry, res := pt.Executor.Namespace().Lookup(store.RootID, "projects")
	require.Equal(t, store.OK, res)
	assert.Equal(t, op.EntryID, entry.ID)

	st, ok := secondary.Target(201)
	require.True(t, ok)
	mirrored, res := st.Executor.Namespace().Lookup(store.RootID, "projects")
	require.Equal(t, store.OK, res)
	assert.Equal(t, op.EntryID, mirrored.ID, "secondary must reuse the id chosen by the primary")

	state, _ := primary.Topology().States.Get(201)
	assert.Equal(t, nodes.Good, state.Consistency)
}

func TestNode_SecondaryFailureMarksNeedsResync(t *testing.T) {
	meta, primary, secondary := buddyPair(t)
	secondary.Stop()

	resp, err := primary.Dispatch(context.Background(), mkdirFrame(101, "lonely"))
	require.NoError(t, err)
	_, err = transport.CheckResult(resp)
	require.NoError(t, err, "a mirroring failure never reaches the client")

	state, _ := primary.Topology().States.Get(201)
	assert.Equal(t, nodes.NeedsResync, state.Consistency)

	stored, err := meta.GetConsistency(context.Background(), 201)
	require.NoError(t, err)
	assert.Equal(t, nodes.NeedsResync, stored)

	marker, ok := primary.Resyncer().Marker(101)
	require.True(t, ok)
	_, marked, err := marker.Get()
	require.NoError(t, err)
	assert.True(t, marked)
}

func TestNode_DispatchUnknownTarget(t *testing.T) {
	meta := metadata.NewMemoryManager("")
	n := startNode(t, meta, testConfig(t, 1, 101))

	resp, err := n.Dispatch(context.Background(), mkdirFrame(999, "x"))
	require.NoError(t, err)
	op, err := transport.CheckResult(resp)
	require.Error(t, err)
	assert.Equal(t, int32(store.NotFound), op.Result)
}

func TestNode_DispatchRejectsResponses(t *testing.T) {
	meta := metadata.NewMemoryManager("")
	n := startNode(t, meta, testConfig(t, 1, 101))

	var h wire.Header
	h.TargetID = 101
	_, err := n.Dispatch(context.Background(), wire.NewFrame(&wire.OpResponse{}, h))
	assert.ErrorIs(t, err, wire.ErrUnexpectedType)
}

func TestNode_SetConsistencyFromPrimary(t *testing.T) {
	meta := metadata.NewMemoryManager("")
	n := startNode(t, meta, testConfig(t, 2, 201))

	var h wire.Header
	h.TargetID = 201
	f := wire.NewFrame(&wire.SetConsistencyState{TargetID: 201, State: uint8(nodes.NeedsResync)}, h)
	resp, err := n.Dispatch(context.Background(), f)
	require.NoError(t, err)
	_, err = transport.CheckResult(resp)
	require.NoError(t, err)

	state, ok := n.Topology().States.Get(201)
	require.True(t, ok)
	assert.Equal(t, nodes.NeedsResync, state.Consistency)
}

func TestNode_SnapshotSurvivesRestart(t *testing.T) {
	meta := metadata.NewMemoryManager("")
	cfg := testConfig(t, 1, 101)

	n, err := NewNode(Deps{Config: cfg, Metadata: meta, Logger: logging.NewNop()})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))

	resp, err := n.Dispatch(context.Background(), mkdirFrame(101, "kept"))
	require.NoError(t, err)
	_, err = transport.CheckResult(resp)
	require.NoError(t, err)
	n.Stop()

	reopened, err := NewNode(Deps{Config: cfg, Metadata: meta, Logger: logging.NewNop()})
	require.NoError(t, err)
	tgt, ok := reopened.Target(101)
	require.True(t, ok)
	_, res := tgt.Executor.Namespace().Lookup(store.RootID, "kept")
	assert.Equal(t, store.OK, res)
	reopened.Stop()
}

func TestNode_PublishesStateEvents(t *testing.T) {
	meta := metadata.NewMemoryManager("")
	cfg := testConfig(t, 1, 101)
	cfg.Queue.Subject = "test.mirror"
	pub := &recordingPublisher{}

	n, err := NewNode(Deps{Config: cfg, Metadata: meta, Events: pub, Logger: logging.NewNop()})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	n.Topology().States.SetConsistency(101, nodes.Bad)

	require.Eventually(t, func() bool {
		subjects, _ := pub.snapshot()
		for _, s := range subjects {
			if s == "test.mirror.state.101" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	subjects, payloads := pub.snapshot()
	for i, s := range subjects {
		if !strings.HasSuffix(s, ".101") {
			continue
		}
		var ev StateEvent
		require.NoError(t, json.Unmarshal(payloads[i], &ev))
		if ev.New.Consistency == nodes.Bad {
			assert.Equal(t, uint16(101), ev.TargetID)
			assert.Equal(t, "online/bad", ev.NewName)
			return
		}
	}
	t.Fatal("No event for the bad state")
}

func TestNewNode_Validation(t *testing.T) {
	_, err := NewNode(Deps{Metadata: metadata.NewMemoryManager("")})
	assert.Error(t, err)

	_, err = NewNode(Deps{Config: testConfig(t, 1)})
	assert.Error(t, err)
}
