package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
)

const (
	nodesDir   = "nodes"
	targetsDir = "targets"
	groupsDir  = "groups"
	statesDir  = "states"
)

// kv is the storage a manager provides to the record layer
type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetPrefix(ctx context.Context, prefix string) (map[string]string, error)
	compareAndSwap(ctx context.Context, key, old, value string) error
}

// records maps the cluster model onto keys below prefix
type records struct {
	kv     kv
	prefix string
}

func (r *records) key(dir string, id uint16) string {
	return path.Join(r.prefix, dir, strconv.Itoa(int(id)))
}

// NodeKey is the key of a node record below prefix
func NodeKey(prefix string, id uint16) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return path.Join(prefix, nodesDir, strconv.Itoa(int(id)))
}

func (r *records) dir(dir string) string {
	return path.Join(r.prefix, dir) + "/"
}

func parseID(key string) (uint16, error) {
	base := path.Base(key)
	id, err := strconv.ParseUint(base, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad id in key %s: %w", key, err)
	}
	return uint16(id), nil
}

// ============================================================================
// Nodes and targets
// ============================================================================

func (r *records) PutNode(ctx context.Context, n nodes.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}
	return r.kv.Put(ctx, r.key(nodesDir, n.ID), string(data))
}

func (r *records) ListNodes(ctx context.Context) ([]nodes.Node, error) {
	kvs, err := r.kv.GetPrefix(ctx, r.dir(nodesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	out := make([]nodes.Node, 0, len(kvs))
	for key, value := range kvs {
		var n nodes.Node
		if err := json.Unmarshal([]byte(value), &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s: %w", key, err)
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *records) MapTarget(ctx context.Context, targetID, nodeID uint16) error {
	return r.kv.Put(ctx, r.key(targetsDir, targetID), strconv.Itoa(int(nodeID)))
}

func (r *records) ListTargets(ctx context.Context) (map[uint16]uint16, error) {
	kvs, err := r.kv.GetPrefix(ctx, r.dir(targetsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	out := make(map[uint16]uint16, len(kvs))
	for key, value := range kvs {
		targetID, err := parseID(key)
		if err != nil {
			return nil, err
		}
		nodeID, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad node id for target %d: %w", targetID, err)
		}
		out[targetID] = uint16(nodeID)
	}
	return out, nil
}

// ============================================================================
// Mirror groups
// ============================================================================

func (r *records) PutGroup(ctx context.Context, g nodes.MirrorGroup) error {
	if g.Primary == g.Secondary {
		return fmt.Errorf("group %d: primary and secondary must differ", g.ID)
	}
	groups, err := r.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, other := range groups {
		if other.ID == g.ID {
			continue
		}
		for _, t := range []uint16{g.Primary, g.Secondary} {
			if t == other.Primary || t == other.Secondary {
				return fmt.Errorf("%w: target %d in group %d", nodes.ErrTargetInGroup, t, other.ID)
			}
		}
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal group: %w", err)
	}
	return r.kv.Put(ctx, r.key(groupsDir, g.ID), string(data))
}

func (r *records) getGroupRaw(ctx context.Context, id uint16) (nodes.MirrorGroup, string, error) {
	value, err := r.kv.Get(ctx, r.key(groupsDir, id))
	if errors.Is(err, ErrNotFound) {
		return nodes.MirrorGroup{}, "", fmt.Errorf("%w: %d", nodes.ErrUnknownGroup, id)
	}
	if err != nil {
		return nodes.MirrorGroup{}, "", err
	}
	var g nodes.MirrorGroup
	if err := json.Unmarshal([]byte(value), &g); err != nil {
		return nodes.MirrorGroup{}, "", fmt.Errorf("failed to unmarshal group %d: %w", id, err)
	}
	return g, value, nil
}

func (r *records) GetGroup(ctx context.Context, id uint16) (nodes.MirrorGroup, error) {
	g, _, err := r.getGroupRaw(ctx, id)
	return g, err
}

func (r *records) ListGroups(ctx context.Context) ([]nodes.MirrorGroup, error) {
	kvs, err := r.kv.GetPrefix(ctx, r.dir(groupsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	out := make([]nodes.MirrorGroup, 0, len(kvs))
	for key, value := range kvs {
		var g nodes.MirrorGroup
		if err := json.Unmarshal([]byte(value), &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal group %s: %w", key, err)
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *records) DeleteGroup(ctx context.Context, id uint16) error {
	return r.kv.Delete(ctx, r.key(groupsDir, id))
}

// SwapGroup exchanges primary and secondary. It only succeeds when the
// group was not changed concurrently.
func (r *records) SwapGroup(ctx context.Context, id uint16) (nodes.MirrorGroup, error) {
	g, old, err := r.getGroupRaw(ctx, id)
	if err != nil {
		return nodes.MirrorGroup{}, err
	}
	g.Primary, g.Secondary = g.Secondary, g.Primary
	data, err := json.Marshal(g)
	if err != nil {
		return nodes.MirrorGroup{}, fmt.Errorf("failed to marshal group: %w", err)
	}
	if err := r.kv.compareAndSwap(ctx, r.key(groupsDir, id), old, string(data)); err != nil {
		return nodes.MirrorGroup{}, err
	}
	return g, nil
}

// ============================================================================
// Consistency states
// ============================================================================

func (r *records) SetConsistency(ctx context.Context, targetID uint16, state nodes.ConsistencyState) error {
	return r.kv.Put(ctx, r.key(statesDir, targetID), state.String())
}

func (r *records) GetConsistency(ctx context.Context, targetID uint16) (nodes.ConsistencyState, error) {
	value, err := r.kv.Get(ctx, r.key(statesDir, targetID))
	if err != nil {
		return nodes.Good, err
	}
	return nodes.ParseConsistency(strings.TrimSpace(value))
}

func (r *records) ListConsistency(ctx context.Context) (map[uint16]nodes.ConsistencyState, error) {
	kvs, err := r.kv.GetPrefix(ctx, r.dir(statesDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	out := make(map[uint16]nodes.ConsistencyState, len(kvs))
	for key, value := range kvs {
		targetID, err := parseID(key)
		if err != nil {
			return nil, err
		}
		state, err := nodes.ParseConsistency(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", targetID, err)
		}
		out[targetID] = state
	}
	return out, nil
}
