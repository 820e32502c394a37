package resync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metrics"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/session"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

var (
	ErrJobRunning            = errors.New("resync job already running for group")
	ErrNoJob                 = errors.New("no resync job for group")
	ErrNotPrimary            = errors.New("group primary is not a local target")
	ErrRestartNeedsTimestamp = errors.New("resync restart requires a timestamp")
	ErrResyncerClosed        = errors.New("resyncer closed")
)

// EventPublisher receives job lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Options control how a job is started
type Options struct {
	// Since limits the job to entries modified at or after it. Zero means
	// a full resync unless a needs-resync marker gives a starting point.
	Since time.Time
	// Restart aborts a running job of the group first
	Restart bool
}

// Event is published when a job starts and when it ends
type Event struct {
	Type    string    `json:"type"`
	GroupID uint16    `json:"group_id"`
	JobID   string    `json:"job_id"`
	State   string    `json:"state"`
	Time    time.Time `json:"time"`
	Stats   *Stats    `json:"stats,omitempty"`
}

// Config holds resyncer settings
type Config struct {
	Job               JobConfig
	SafetyThreshold   time.Duration
	ChangesetCapacity int
	Subject           string
}

// Deps wires a resyncer into a node
type Deps struct {
	Config   Config
	Topology *nodes.Topology
	Peer     Peer
	Pauser   Pauser
	Reporter StateReporter
	Events   EventPublisher
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
}

// localTarget is what the resyncer needs from a target served by this node
type localTarget struct {
	id        uint16
	ns        *store.Namespace
	sessions  *session.Store
	marker    *Marker
	changeset *Changeset
}

// Resyncer runs at most one job per mirror group whose primary is local
// and tells the live path when changes must be registered.
type Resyncer struct {
	config   Config
	topo     *nodes.Topology
	peer     Peer
	pauser   Pauser
	reporter StateReporter
	events   EventPublisher
	metrics  *metrics.Metrics
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	targets map[uint16]*localTarget
	jobs    map[uint16]*Job
	closed  bool
}

// NewResyncer creates a resyncer without targets
func NewResyncer(d Deps) *Resyncer {
	if d.Config.SafetyThreshold <= 0 {
		d.Config.SafetyThreshold = utils.DefaultResyncSafetyThreshold
	}
	if d.Config.ChangesetCapacity <= 0 {
		d.Config.ChangesetCapacity = utils.DefaultChangesetCapacity
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resyncer{
		config:   d.Config,
		topo:     d.Topology,
		peer:     d.Peer,
		pauser:   d.Pauser,
		reporter: d.Reporter,
		events:   d.Events,
		metrics:  d.Metrics,
		logger:   d.Logger,
		ctx:      ctx,
		cancel:   cancel,
		targets:  make(map[uint16]*localTarget),
		jobs:     make(map[uint16]*Job),
	}
}

// AddTarget registers a local target. Its marker and changeset live in dir.
func (r *Resyncer) AddTarget(id uint16, ns *store.Namespace, sessions *session.Store, dir string) error {
	cs, err := OpenChangeset(filepath.Join(dir, "changeset"), r.config.ChangesetCapacity)
	if err != nil {
		return fmt.Errorf("target %d: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.targets[id]; ok {
		_ = old.changeset.Close()
	}
	r.targets[id] = &localTarget{
		id:        id,
		ns:        ns,
		sessions:  sessions,
		marker:    NewMarker(dir),
		changeset: cs,
	}
	return nil
}

// Marker returns the needs-resync marker of a local target
func (r *Resyncer) Marker(targetID uint16) (*Marker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[targetID]
	if !ok {
		return nil, false
	}
	return t.marker, true
}

func (r *Resyncer) current(groupID uint16) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[groupID]
}

// IsRegistering reports whether a job of the group collects live changes
func (r *Resyncer) IsRegistering(groupID uint16) bool {
	j := r.current(groupID)
	return j != nil && j.IsRegistering()
}

// RegisterChanges hands live changes to the group's running job
func (r *Resyncer) RegisterChanges(ctx context.Context, groupID uint16, changes []store.Change) error {
	j := r.current(groupID)
	if j == nil || j.State() != StateRunning {
		return ErrChangesetInactive
	}
	return j.changeset.Register(ctx, changes)
}

// SecondaryMissedWrite records on the primary that its buddy fell behind
func (r *Resyncer) SecondaryMissedWrite(ctx context.Context, groupID uint16, cause error) {
	g, ok := r.topo.Groups.Get(groupID)
	if !ok {
		return
	}
	m, ok := r.Marker(g.Primary)
	if !ok {
		return
	}
	if err := m.Set(time.Now()); err != nil {
		r.logger.Error("Failed to persist needs-resync marker",
			"group", groupID, "target", g.Primary, "error", err)
		return
	}
	r.logger.Debug("Buddy marked as needing resync", "group", groupID, "cause", cause)

	if r.reporter != nil {
		if st, ok := r.topo.States.Get(g.Secondary); ok && st.Consistency == nodes.NeedsResync {
			if err := r.reporter.SetConsistency(ctx, g.Secondary, nodes.NeedsResync); err != nil {
				r.logger.Warn("Failed to report needs-resync to coordinator",
					"group", groupID, "secondary", g.Secondary, "error", err)
			}
		}
	}
}

// StartResync starts a job for the group in the background
func (r *Resyncer) StartResync(ctx context.Context, groupID uint16, opts Options) (*Job, error) {
	if opts.Restart && opts.Since.IsZero() {
		return nil, ErrRestartNeedsTimestamp
	}
	g, ok := r.topo.Groups.Get(groupID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", nodes.ErrUnknownGroup, groupID)
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrResyncerClosed
		}
		t, ok := r.targets[g.Primary]
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: group %d primary %d", ErrNotPrimary, groupID, g.Primary)
		}
		cur := r.jobs[groupID]
		if cur == nil || cur.State().Terminal() {
			job := r.newJob(g, t, opts)
			r.jobs[groupID] = job
			r.wg.Add(1)
			r.mu.Unlock()

			go r.run(job)
			return job, nil
		}
		r.mu.Unlock()

		if !opts.Restart {
			return nil, fmt.Errorf("%w: %d (job %s)", ErrJobRunning, groupID, cur.ID())
		}
		r.logger.Info("Restarting buddy resync", "group", groupID, "job", cur.ID())
		if err := cur.Abort(true); err != nil {
			return nil, fmt.Errorf("abort running job: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// newJob must be called with r.mu held
func (r *Resyncer) newJob(g nodes.MirrorGroup, t *localTarget, opts Options) *Job {
	since := opts.Since
	if since.IsZero() {
		ts, ok, err := t.marker.Get()
		switch {
		case err != nil:
			r.logger.Warn("Unreadable needs-resync marker, doing a full resync", "target", t.id, "error", err)
		case ok:
			since = ts.Add(-r.config.SafetyThreshold)
		}
	}
	return NewJob(JobDeps{
		Config:    r.config.Job,
		Group:     g,
		Since:     since,
		Namespace: t.ns,
		Sessions:  t.sessions,
		Changeset: t.changeset,
		Peer:      r.peer,
		Pauser:    r.pauser,
		States:    r.topo.States,
		Reporter:  r.reporter,
		Marker:    t.marker,
		Metrics:   r.metrics,
		Logger:    r.logger,
	})
}

func (r *Resyncer) run(job *Job) {
	defer r.wg.Done()
	r.publish(job, "started", nil)
	job.Run(r.ctx)
	stats := job.Stats()
	r.publish(job, "finished", &stats)
}

func (r *Resyncer) publish(job *Job, kind string, stats *Stats) {
	if r.events == nil {
		return
	}
	ev := Event{
		Type:    kind,
		GroupID: job.Group().ID,
		JobID:   job.ID(),
		State:   job.State().String(),
		Time:    time.Now().UTC(),
		Stats:   stats,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("Failed to encode resync event", "error", err)
		return
	}
	subject := r.config.Subject
	if subject == "" {
		subject = utils.DefaultEventSubject
	}
	subject += ".resync." + strconv.Itoa(int(ev.GroupID))

	ctx, cancel := context.WithTimeout(context.Background(), utils.DefaultRequestTimeout)
	defer cancel()
	if err := r.events.Publish(ctx, subject, data); err != nil {
		r.logger.Warn("Failed to publish resync event", "subject", subject, "error", err)
	}
}

// AbortResync stops the group's running job
func (r *Resyncer) AbortResync(groupID uint16, wait bool) error {
	j := r.current(groupID)
	if j == nil {
		return fmt.Errorf("%w: %d", ErrNoJob, groupID)
	}
	return j.Abort(wait)
}

// Job returns the group's current or last job
func (r *Resyncer) Job(groupID uint16) (*Job, bool) {
	j := r.current(groupID)
	return j, j != nil
}

// Stats returns the statistics of the group's current or last job
func (r *Resyncer) Stats(groupID uint16) (Stats, error) {
	j := r.current(groupID)
	if j == nil {
		return Stats{}, fmt.Errorf("%w: %d", ErrNoJob, groupID)
	}
	return j.Stats(), nil
}

// AllStats returns the statistics of every known job
func (r *Resyncer) AllStats() []Stats {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Stats())
	}
	return out
}

// CheckBuddyNeedsResync walks the groups whose primary is local. A
// persisted marker downgrades a Good buddy to NeedsResync; a reachable
// NeedsResync buddy of a Good primary gets a job started.
func (r *Resyncer) CheckBuddyNeedsResync(ctx context.Context) error {
	r.mu.Lock()
	targets := make([]*localTarget, 0, len(r.targets))
	for _, t := range r.targets {
		targets = append(targets, t)
	}
	r.mu.Unlock()

	var errs []error
	for _, t := range targets {
		g, isPrimary, ok := r.topo.Groups.GroupOfTarget(t.id)
		if !ok || !isPrimary {
			continue
		}

		_, marked, err := t.marker.Get()
		if err != nil {
			errs = append(errs, fmt.Errorf("target %d marker: %w", t.id, err))
		}
		if marked && r.topo.States.CompareAndSetConsistency(g.Secondary, nodes.Good, nodes.NeedsResync) {
			r.metrics.StateTransitions.WithLabelValues(nodes.NeedsResync.String()).Inc()
			r.logger.Info("Buddy needs resync according to marker", "group", g.ID, "secondary", g.Secondary)
			if r.reporter != nil {
				if err := r.reporter.SetConsistency(ctx, g.Secondary, nodes.NeedsResync); err != nil {
					errs = append(errs, fmt.Errorf("report group %d: %w", g.ID, err))
				}
			}
		}

		primary, _ := r.topo.States.Get(g.Primary)
		secondary, known := r.topo.States.Get(g.Secondary)
		if !known || primary.Consistency != nodes.Good {
			continue
		}
		if secondary.Reachability != nodes.Online || secondary.Consistency != nodes.NeedsResync {
			continue
		}
		if j := r.current(g.ID); j != nil && !j.State().Terminal() {
			continue
		}
		if _, err := r.StartResync(ctx, g.ID, Options{}); err != nil && !errors.Is(err, ErrJobRunning) {
			errs = append(errs, fmt.Errorf("start resync of group %d: %w", g.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close aborts running jobs and waits for them
func (r *Resyncer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		_ = j.Abort(false)
	}
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, t := range r.targets {
		errs = append(errs, t.changeset.Close())
	}
	return errors.Join(errs...)
}
