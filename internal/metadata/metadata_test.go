package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
)

// exerciseManager runs the same checks against every implementation
func exerciseManager(t *testing.T, m Manager) {
	ctx := context.Background()

	if err := m.PutNode(ctx, nodes.Node{ID: 2, Address: "10.0.0.2:8003"}); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
	if err := m.PutNode(ctx, nodes.Node{ID: 1, Address: "10.0.0.1:8003"}); err != nil {
		t.Fatalf("PutNode failed: %v", err)
	}
	nodeList, err := m.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodeList) != 2 || nodeList[0].ID != 1 || nodeList[1].Address != "10.0.0.2:8003" {
		t.Errorf("Unexpected nodes: %+v", nodeList)
	}

	if err := m.MapTarget(ctx, 101, 1); err != nil {
		t.Fatalf("MapTarget failed: %v", err)
	}
	if err := m.MapTarget(ctx, 201, 2); err != nil {
		t.Fatalf("MapTarget failed: %v", err)
	}
	targets, err := m.ListTargets(ctx)
	if err != nil {
		t.Fatalf("ListTargets failed: %v", err)
	}
	if targets[101] != 1 || targets[201] != 2 {
		t.Errorf("Unexpected targets: %v", targets)
	}

	g := nodes.MirrorGroup{ID: 1, Primary: 101, Secondary: 201}
	if err := m.PutGroup(ctx, g); err != nil {
		t.Fatalf("PutGroup failed: %v", err)
	}
	err = m.PutGroup(ctx, nodes.MirrorGroup{ID: 2, Primary: 201, Secondary: 301})
	if !errors.Is(err, nodes.ErrTargetInGroup) {
		t.Errorf("Expected ErrTargetInGroup, got %v", err)
	}
	if err := m.PutGroup(ctx, nodes.MirrorGroup{ID: 3, Primary: 7, Secondary: 7}); err == nil {
		t.Error("Expected error for identical primary and secondary")
	}

	got, err := m.GetGroup(ctx, 1)
	if err != nil || got != g {
		t.Fatalf("GetGroup returned %+v, %v", got, err)
	}
	if _, err := m.GetGroup(ctx, 99); !errors.Is(err, nodes.ErrUnknownGroup) {
		t.Errorf("Expected ErrUnknownGroup, got %v", err)
	}

	swapped, err := m.SwapGroup(ctx, 1)
	if err != nil {
		t.Fatalf("SwapGroup failed: %v", err)
	}
	if swapped.Primary != 201 || swapped.Secondary != 101 {
		t.Errorf("Unexpected swapped group: %+v", swapped)
	}
	if got, _ := m.GetGroup(ctx, 1); got != swapped {
		t.Errorf("Swap not persisted: %+v", got)
	}

	if err := m.SetConsistency(ctx, 101, nodes.NeedsResync); err != nil {
		t.Fatalf("SetConsistency failed: %v", err)
	}
	if err := m.SetConsistency(ctx, 201, nodes.Good); err != nil {
		t.Fatalf("SetConsistency failed: %v", err)
	}
	state, err := m.GetConsistency(ctx, 101)
	if err != nil || state != nodes.NeedsResync {
		t.Errorf("GetConsistency returned %v, %v", state, err)
	}
	if _, err := m.GetConsistency(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	states, err := m.ListConsistency(ctx)
	if err != nil {
		t.Fatalf("ListConsistency failed: %v", err)
	}
	if len(states) != 2 || states[101] != nodes.NeedsResync {
		t.Errorf("Unexpected states: %v", states)
	}

	topo := nodes.NewTopology()
	topo.Nodes.Put(nodes.Node{ID: 9, Address: "10.0.0.9:8003"})
	if err := LoadTopology(ctx, m, topo); err != nil {
		t.Fatalf("LoadTopology failed: %v", err)
	}
	if _, ok := topo.Nodes.Get(9); ok {
		t.Error("Node without a registration should be dropped")
	}
	if n, ok := topo.Targets.NodeOf(201); !ok || n != 2 {
		t.Errorf("Target 201 should map to node 2, got %d, %v", n, ok)
	}
	if g, isPrimary, ok := topo.Groups.GroupOfTarget(201); !ok || !isPrimary || g.ID != 1 {
		t.Errorf("Target 201 should be primary of group 1")
	}
	if st, ok := topo.States.Get(101); !ok || st.Consistency != nodes.NeedsResync {
		t.Errorf("State of 101 not applied: %+v, %v", st, ok)
	}

	if err := m.DeleteGroup(ctx, 1); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}
	groups, err := m.ListGroups(ctx)
	if err != nil || len(groups) != 0 {
		t.Errorf("Expected no groups, got %v, %v", groups, err)
	}
}

func TestMemoryManager(t *testing.T) {
	m := NewMemoryManager("")
	defer func() { _ = m.Close() }()
	exerciseManager(t, m)
}

func TestMemoryManagerWatch(t *testing.T) {
	m := NewMemoryManager("/test")
	ctx, cancel := context.WithCancel(context.Background())
	events := m.Watch(ctx)

	if err := m.SetConsistency(context.Background(), 5, nodes.Bad); err != nil {
		t.Fatal(err)
	}
	if err := m.Put(context.Background(), "/elsewhere/key", "ignored"); err != nil {
		t.Fatal(err)
	}

	select {
	case key := <-events:
		if key != "/test/states/5" {
			t.Errorf("Unexpected key %s", key)
		}
	case <-time.After(time.Second):
		t.Fatal("No watch event")
	}
	select {
	case key, ok := <-events:
		if ok {
			t.Errorf("Key outside the prefix was reported: %s", key)
		}
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Watch channel not closed after cancel")
		}
	}
}

func TestMemoryManagerSwapConflict(t *testing.T) {
	m := NewMemoryManager("")
	ctx := context.Background()
	if err := m.PutGroup(ctx, nodes.MirrorGroup{ID: 4, Primary: 1, Secondary: 2}); err != nil {
		t.Fatal(err)
	}
	key := m.key(groupsDir, 4)
	if err := m.compareAndSwap(ctx, key, "stale", "{}"); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
	if _, err := m.SwapGroup(ctx, 5); !errors.Is(err, nodes.ErrUnknownGroup) {
		t.Errorf("Expected ErrUnknownGroup, got %v", err)
	}
}
