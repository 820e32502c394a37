package resync

import (
	"context"
	"fmt"

	"github.com/ThinkParQ/beegfs-sub011/internal/store"
)

const modSyncBatch = 256

// modSync turns the changeset into a list of touched entries. While the
// bulk copy runs it only collects; the entries are sent once live
// traffic is paused, so nothing sent can be outdated by a later change.
type modSync struct {
	j     *Job
	order []*Candidate
	seen  map[string]bool
	err   error
}

func newModSync(j *Job) *modSync {
	return &modSync{j: j, seen: make(map[string]bool)}
}

// collect consumes the changeset until ctx ends or the changeset is
// deactivated. Reading frees changeset slots for blocked producers.
func (m *modSync) collect(ctx context.Context) {
	cs := m.j.changeset
	for ctx.Err() == nil {
		if !cs.WaitPending(ctx) {
			if !cs.Active() {
				return
			}
			continue
		}
		if !m.fold() {
			return
		}
	}
}

// fold reads one batch and reports whether reading may continue
func (m *modSync) fold() bool {
	changes, err := m.j.changeset.Next(modSyncBatch)
	if err != nil {
		m.err = fmt.Errorf("read changeset: %w", err)
		m.j.stats.modSyncErrors.Add(1)
		m.j.metrics.ResyncErrors.WithLabelValues("modsync").Inc()
		return false
	}
	for _, c := range changes {
		if c.EntryID == "" || m.seen[c.EntryID] {
			continue
		}
		m.seen[c.EntryID] = true
		cand := NewCandidate(KindMod, c.EntryID)
		cand.LogPos = c.Pos
		m.order = append(m.order, cand)
	}
	return len(changes) > 0
}

// replay drains what is left in the changeset and syncs every touched
// entry in the order it was first changed. Must run with live traffic
// paused.
func (m *modSync) replay(ctx context.Context) error {
	if m.err == nil {
		for m.fold() {
		}
	}
	if m.err != nil {
		return m.err
	}

	j := m.j
	sent := make(map[string]bool, len(m.order))
	for _, c := range m.order {
		if err := ctx.Err(); err != nil {
			c.Abandon()
			return err
		}
		if err := m.syncOne(ctx, c.EntryID, sent); err != nil {
			c.Fail(err)
			j.stats.modSyncErrors.Add(1)
			j.metrics.ResyncErrors.WithLabelValues("modsync").Inc()
			j.logger.Debug("Failed to sync modified entry", "entry", c.EntryID, "log_pos", c.LogPos, "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if j.overThreshold() {
				return ErrErrorThreshold
			}
			continue
		}
		c.Done()
		j.stats.modObjectsSynced.Add(1)
		j.metrics.ResyncSynced.WithLabelValues(KindMod.String()).Inc()
	}
	j.logger.Debug("Modification sync done", "entries", len(m.order))
	return nil
}

// syncOne sends id. An existing entry is preceded by those of its
// ancestors not sent yet, root-most first, so the secondary can place it.
func (m *modSync) syncOne(ctx context.Context, id string, sent map[string]bool) error {
	j := m.j
	if e, ok := j.ns.Get(id); ok {
		for _, anc := range m.ancestors(e) {
			if sent[anc] {
				continue
			}
			if err := j.syncEntry(ctx, anc, false); err != nil {
				return fmt.Errorf("ancestor %s: %w", anc, err)
			}
			sent[anc] = true
		}
	}
	if err := j.syncEntry(ctx, id, true); err != nil {
		return err
	}
	sent[id] = true
	return nil
}

// ancestors lists the directories above e, excluding the root, root-most first
func (m *modSync) ancestors(e store.Entry) []string {
	var chain []string
	parent := e.ParentID
	for parent != "" && parent != store.RootID {
		chain = append(chain, parent)
		p, ok := m.j.ns.Get(parent)
		if !ok {
			break
		}
		parent = p.ParentID
	}
	for i, k := 0, len(chain)-1; i < k; i, k = i+1, k-1 {
		chain[i], chain[k] = chain[k], chain[i]
	}
	return chain
}
