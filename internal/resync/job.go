package resync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/metrics"
	"github.com/ThinkParQ/beegfs-sub011/internal/nodes"
	"github.com/ThinkParQ/beegfs-sub011/internal/session"
	"github.com/ThinkParQ/beegfs-sub011/internal/store"
	"github.com/ThinkParQ/beegfs-sub011/internal/transport"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

var (
	// ErrErrorThreshold stops a job whose slaves failed too often
	ErrErrorThreshold = errors.New("resync error threshold exceeded")
	// ErrAbortTimeout is returned when an aborted job did not stop within the budget
	ErrAbortTimeout = errors.New("resync job did not stop in time")
)

// Peer reaches the secondary target whatever its consistency state
type Peer interface {
	CallTarget(ctx context.Context, targetID uint16, f *wire.Frame, expect wire.MsgType) (*wire.Frame, error)
}

// Pauser freezes and releases live client traffic
type Pauser interface {
	Pause(ctx context.Context) error
	Resume()
}

// StateReporter pushes consistency states to the cluster coordinator
type StateReporter interface {
	SetConsistency(ctx context.Context, targetID uint16, state nodes.ConsistencyState) error
}

// JobConfig holds the job tunables
type JobConfig struct {
	Slaves         int
	ChunkSize      int
	QueueSize      int
	ErrorThreshold int64
	AbortBudget    time.Duration
}

// JobDeps wires a job to one primary target and its group
type JobDeps struct {
	Config    JobConfig
	Group     nodes.MirrorGroup
	Since     time.Time
	Namespace *store.Namespace
	Sessions  *session.Store
	Changeset *Changeset
	Peer      Peer
	Pauser    Pauser
	States    *nodes.TargetStateStore
	Reporter  StateReporter
	Marker    *Marker
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Job resynchronizes the secondary of one mirror group
type Job struct {
	id        string
	cfg       JobConfig
	group     nodes.MirrorGroup
	since     time.Time
	ns        *store.Namespace
	sessions  *session.Store
	changeset *Changeset
	peer      Peer
	pauser    Pauser
	states    *nodes.TargetStateStore
	reporter  StateReporter
	marker    *Marker
	metrics   *metrics.Metrics
	logger    *logging.Logger

	queue *CandidateQueue
	stats counters
	state atomic.Int32

	listMu   sync.Mutex
	listings []string

	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
	cancel    context.CancelFunc
	aborted   atomic.Bool
	runOnce   sync.Once
	doneOnce  sync.Once
	done      chan struct{}
}

// NewJob creates a job in state NotStarted
func NewJob(d JobDeps) *Job {
	if d.Config.Slaves <= 0 {
		d.Config.Slaves = utils.DefaultNumResyncSlaves
	}
	if d.Config.ChunkSize <= 0 {
		d.Config.ChunkSize = utils.DefaultSparseChunkSize
	}
	if d.Config.QueueSize <= 0 {
		d.Config.QueueSize = utils.DefaultCandidateQueueSize
	}
	if d.Config.AbortBudget <= 0 {
		d.Config.AbortBudget = utils.DefaultAbortRetryBudget
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	id := uuid.NewString()
	return &Job{
		id:        id,
		cfg:       d.Config,
		group:     d.Group,
		since:     d.Since,
		ns:        d.Namespace,
		sessions:  d.Sessions,
		changeset: d.Changeset,
		peer:      d.Peer,
		pauser:    d.Pauser,
		states:    d.States,
		reporter:  d.Reporter,
		marker:    d.Marker,
		metrics:   d.Metrics,
		logger:    d.Logger.With("job", id, "group", d.Group.ID),
		queue:     NewCandidateQueue(d.Config.QueueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the job id
func (j *Job) ID() string { return j.id }

// Group returns the mirror group being resynced
func (j *Job) Group() nodes.MirrorGroup { return j.group }

// State returns the current job state
func (j *Job) State() JobState { return JobState(j.state.Load()) }

// Done is closed when the job reached a terminal state
func (j *Job) Done() <-chan struct{} { return j.done }

// IsRegistering reports whether live changes must go to the changeset
func (j *Job) IsRegistering() bool {
	return j.State() == StateRunning && j.changeset.Active()
}

// Stats returns the latest counters; safe while the job runs
func (j *Job) Stats() Stats {
	j.mu.Lock()
	s := Stats{
		JobID:     j.id,
		GroupID:   j.group.ID,
		Primary:   j.group.Primary,
		Secondary: j.group.Secondary,
		State:     j.State().String(),
		Since:     j.since,
		StartTime: j.startTime,
		EndTime:   j.endTime,
	}
	j.mu.Unlock()
	j.stats.fill(&s)
	return s
}

func (j *Job) markDone() {
	j.doneOnce.Do(func() { close(j.done) })
}

// Abort stops the job. Slaves stop whether idle or not and queued
// candidates are abandoned. With wait set it blocks until the job ended
// or the abort budget ran out. Calling it again, or after the job
// finished, has no effect.
func (j *Job) Abort(wait bool) error {
	j.mu.Lock()
	j.aborted.Store(true)
	if j.State() == StateNotStarted {
		j.state.Store(int32(StateInterrupted))
		j.endTime = time.Now()
		j.markDone()
	}
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	j.queue.Drain()
	if !wait {
		return nil
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(utils.StragglerDrainInterval),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(j.cfg.AbortBudget),
	)
	err := backoff.Retry(func() error {
		j.queue.Drain()
		select {
		case <-j.done:
			return nil
		default:
			return ErrAbortTimeout
		}
	}, b)
	if err != nil {
		return fmt.Errorf("%w after %s", ErrAbortTimeout, j.cfg.AbortBudget)
	}
	return nil
}

// Run executes the job and returns its terminal state. It runs at most once.
func (j *Job) Run(ctx context.Context) JobState {
	ran := false
	j.runOnce.Do(func() {
		ran = true
		j.run(ctx)
	})
	if !ran {
		<-j.done
	}
	return j.State()
}

func (j *Job) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	if j.aborted.Load() {
		j.mu.Unlock()
		return
	}
	j.cancel = cancel
	j.startTime = time.Now()
	j.state.Store(int32(StateRunning))
	j.mu.Unlock()

	groupLabel := strconv.Itoa(int(j.group.ID))
	j.metrics.ResyncRunning.WithLabelValues(groupLabel).Set(1)
	defer j.metrics.ResyncRunning.WithLabelValues(groupLabel).Set(0)

	j.logger.Info("Buddy resync started",
		"primary", j.group.Primary,
		"secondary", j.group.Secondary,
		"since", j.since)

	// live traffic is frozen so that no operation straddles activation
	if err := j.pauser.Pause(ctx); err != nil {
		j.fail(fmt.Errorf("pause workers: %w", err))
		return
	}
	err := j.changeset.Activate()
	if err == nil {
		err = j.sendStart(ctx)
	}
	j.pauser.Resume()
	if err != nil {
		j.fail(fmt.Errorf("resync start handshake: %w", err))
		return
	}

	mod := newModSync(j)
	collectCtx, stopCollect := context.WithCancel(ctx)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		mod.collect(collectCtx)
	}()

	err = j.bulkSync(ctx)

	paused := false
	if err == nil && !j.aborted.Load() {
		// the collector keeps draining the changeset so producers blocked
		// on a full changeset can finish and let the pause complete
		if err = j.pauser.Pause(ctx); err == nil {
			paused = true
			stopCollect()
			<-collected
			if err = mod.replay(ctx); err == nil {
				err = j.syncSessions(ctx)
			}
		}
	}
	stopCollect()
	<-collected

	final := StateSuccess
	switch {
	case j.aborted.Load():
		final = StateInterrupted
	case err != nil || j.stats.errors() > 0:
		final = StateErrors
	}
	if err != nil && !j.aborted.Load() {
		j.logger.Warn("Buddy resync phase failed", "error", err)
	}
	j.finish(final, paused)
}

// fail ends a job whose handshake did not succeed. Consistency states
// and the marker are left as they are, unless the job was aborted: a
// running job that is stopped always leaves the secondary Bad.
func (j *Job) fail(err error) {
	if j.aborted.Load() {
		j.logger.Info("Buddy resync aborted during start", "error", err)
		j.finish(StateInterrupted, false)
		return
	}

	j.changeset.Deactivate()
	j.queue.Close()
	j.logger.Error("Buddy resync failed", "error", err)
	j.setTerminal(StateFailure)
}

func (j *Job) finish(final JobState, paused bool) {
	j.changeset.Deactivate()
	j.queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.AbortBudget)
	defer cancel()

	consistency := nodes.Bad
	if final == StateSuccess {
		consistency = nodes.Good
	}
	if j.states.SetConsistency(j.group.Secondary, consistency) {
		j.metrics.StateTransitions.WithLabelValues(consistency.String()).Inc()
	}
	if j.marker != nil {
		if err := j.marker.Clear(); err != nil {
			j.logger.Warn("Failed to clear needs-resync marker", "error", err)
		}
	}
	if err := j.send(ctx, &wire.SetConsistencyState{TargetID: j.group.Secondary, State: uint8(consistency)}); err != nil {
		j.logger.Warn("Failed to inform secondary of its state", "state", consistency.String(), "error", err)
	}
	if j.reporter != nil {
		if err := j.reporter.SetConsistency(ctx, j.group.Secondary, consistency); err != nil {
			j.logger.Warn("Failed to report state to coordinator", "state", consistency.String(), "error", err)
		}
	}

	if paused {
		j.pauser.Resume()
	}
	j.drainStragglers(ctx)
	j.setTerminal(final)
}

func (j *Job) setTerminal(final JobState) {
	j.mu.Lock()
	j.endTime = time.Now()
	j.state.Store(int32(final))
	j.mu.Unlock()

	j.metrics.ResyncJobs.WithLabelValues(final.String()).Inc()
	s := j.Stats()
	j.logger.Info("Buddy resync finished",
		"state", final.String(),
		"duration", s.EndTime.Sub(s.StartTime).String(),
		"synced_dirs", s.SyncedDirs,
		"synced_files", s.SyncedFiles,
		"error_dirs", s.ErrorDirs,
		"error_files", s.ErrorFiles,
		"mod_objects_synced", s.ModObjectsSynced,
		"sessions_synced", s.SessionsSynced)
	j.markDone()
}

// drainStragglers waits until no producer is still blocked on the
// changeset, abandoning queued candidates in the meantime
func (j *Job) drainStragglers(ctx context.Context) {
	for j.changeset.Waiters() > 0 {
		j.queue.Drain()
		select {
		case <-ctx.Done():
			j.logger.Warn("Stragglers still waiting on resync changeset", "waiters", j.changeset.Waiters())
			return
		case <-time.After(utils.StragglerDrainInterval):
		}
	}
}

func (j *Job) overThreshold() bool {
	return j.cfg.ErrorThreshold > 0 && int64(j.stats.errors()) > j.cfg.ErrorThreshold
}

// send delivers one resync message to the secondary and checks the result
func (j *Job) send(ctx context.Context, msg wire.Message) error {
	hdr := wire.Header{TargetID: j.group.Secondary}
	resp, err := j.peer.CallTarget(ctx, j.group.Secondary, wire.NewFrame(msg, hdr), wire.MsgOpResponse)
	if err != nil {
		return err
	}
	_, err = transport.CheckResult(resp)
	return err
}

func (j *Job) sendStart(ctx context.Context) error {
	var since int64
	if !j.since.IsZero() {
		since = j.since.UnixNano()
	}
	return j.send(ctx, &wire.ResyncStart{GroupID: j.group.ID, JobID: j.id, Since: since})
}

// unchanged reports whether a timestamp-based resync may skip e
func (j *Job) unchanged(e store.Entry) bool {
	return !j.since.IsZero() && e.ModTime.Before(j.since)
}

// syncEntry sends the current state of id, or its removal. Directories
// optionally carry their listing so the secondary drops extra names.
func (j *Job) syncEntry(ctx context.Context, id string, listing bool) error {
	e, ok := j.ns.Get(id)
	if !ok {
		return j.send(ctx, &wire.ResyncEntry{Entry: wire.EntryRecord{ID: id}, Remove: true})
	}

	msg := &wire.ResyncEntry{Entry: e.ToRecord()}
	if !e.IsDir {
		msg.Chunks = store.SplitSparse(e.Data, j.cfg.ChunkSize)
	}
	if err := j.send(ctx, msg); err != nil {
		return err
	}
	if !e.IsDir || !listing {
		return nil
	}
	return j.sendListing(ctx, id)
}

// sendListing sends the child names of directory id
func (j *Job) sendListing(ctx context.Context, id string) error {
	children := j.ns.Children(id)
	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.Name)
	}
	return j.send(ctx, &wire.ResyncDirListing{DirID: id, Names: names})
}

func (j *Job) bulkSync(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer j.queue.Finish()
		return j.gather(gctx)
	})
	for i := 0; i < j.cfg.Slaves; i++ {
		g.Go(func() error {
			return j.bulkSlave(gctx)
		})
	}
	err := g.Wait()
	j.queue.Drain()
	if err != nil {
		return err
	}
	return j.syncListings(ctx)
}

// syncListings sends the listings of the directories synced by the bulk
// slaves. They go out only after every entry is in place: an entry moved
// to another directory must be re-parented on the secondary before the
// listing of its old directory drops the name, or its subtree is lost.
func (j *Job) syncListings(ctx context.Context) error {
	j.listMu.Lock()
	dirs := j.listings
	j.listings = nil
	j.listMu.Unlock()

	for _, id := range dirs {
		// removed meanwhile; mod-sync sends the removal
		if _, ok := j.ns.Get(id); !ok {
			continue
		}
		err := j.sendListing(ctx, id)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		j.stats.errorDirs.Add(1)
		j.metrics.ResyncErrors.WithLabelValues("bulk").Inc()
		j.logger.Debug("Failed to sync directory listing", "dir", id, "error", err)
		if j.overThreshold() {
			return ErrErrorThreshold
		}
	}
	return nil
}

// gather walks the namespace one level at a time. Directory candidates
// of a level complete before their children are queued, so every parent
// exists on the secondary before anything is put into it.
func (j *Job) gather(ctx context.Context) error {
	root, ok := j.ns.Get(store.RootID)
	if !ok {
		j.stats.gatherErrors.Add(1)
		return fmt.Errorf("namespace has no root")
	}
	j.stats.discoveredDirs.Add(1)

	level := []string{store.RootID}
	if j.unchanged(root) {
		j.stats.matchedDirs.Add(1)
	} else {
		c := NewCandidate(KindDir, store.RootID)
		if err := j.queue.Add(ctx, c); err != nil {
			return err
		}
		if err := c.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sync root: %w", err)
		}
	}

	type pendingDir struct {
		id   string
		cand *Candidate
	}
	for len(level) > 0 {
		var dirs []pendingDir
		for _, dirID := range level {
			for _, child := range j.ns.Children(dirID) {
				if child.IsDir {
					j.stats.discoveredDirs.Add(1)
					if j.unchanged(child) {
						j.stats.matchedDirs.Add(1)
						dirs = append(dirs, pendingDir{id: child.ID})
						continue
					}
					c := NewCandidate(KindDir, child.ID)
					if err := j.queue.Add(ctx, c); err != nil {
						return err
					}
					dirs = append(dirs, pendingDir{id: child.ID, cand: c})
					continue
				}

				j.stats.discoveredFiles.Add(1)
				if j.unchanged(child) {
					j.stats.matchedFiles.Add(1)
					continue
				}
				if err := j.queue.Add(ctx, NewCandidate(KindFile, child.ID)); err != nil {
					return err
				}
			}
		}

		next := make([]string, 0, len(dirs))
		for _, d := range dirs {
			if d.cand != nil {
				if err := d.cand.Wait(ctx); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					j.logger.Debug("Skipping subtree of unsynced directory", "dir", d.id, "error", err)
					continue
				}
			}
			next = append(next, d.id)
		}
		level = next
	}
	return nil
}

func (j *Job) bulkSlave(ctx context.Context) error {
	for {
		c, err := j.queue.Fetch(ctx)
		if errors.Is(err, ErrQueueFinished) {
			return nil
		}
		if err != nil {
			return err
		}

		err = j.syncEntry(ctx, c.EntryID, false)
		if err == nil {
			c.Done()
			if c.Kind == KindDir {
				j.listMu.Lock()
				j.listings = append(j.listings, c.EntryID)
				j.listMu.Unlock()
				j.stats.syncedDirs.Add(1)
			} else {
				j.stats.syncedFiles.Add(1)
			}
			j.metrics.ResyncSynced.WithLabelValues(c.Kind.String()).Inc()
			continue
		}

		if ctx.Err() != nil {
			c.Abandon()
			return ctx.Err()
		}
		c.Fail(err)
		if c.Kind == KindDir {
			j.stats.errorDirs.Add(1)
		} else {
			j.stats.errorFiles.Add(1)
		}
		j.metrics.ResyncErrors.WithLabelValues("bulk").Inc()
		j.logger.Debug("Failed to sync entry", "entry", c.EntryID, "kind", c.Kind.String(), "error", err)
		if j.overThreshold() {
			return ErrErrorThreshold
		}
	}
}

func (j *Job) syncSessions(ctx context.Context) error {
	records := j.sessions.Export()
	j.stats.sessionsToSync.Store(uint64(len(records)))
	if err := j.send(ctx, &wire.ResyncSessions{Sessions: records}); err != nil {
		j.stats.sessionSyncError.Store(true)
		j.metrics.ResyncErrors.WithLabelValues("sessions").Inc()
		return fmt.Errorf("session store resync: %w", err)
	}
	j.stats.sessionsSynced.Store(uint64(len(records)))
	j.metrics.ResyncSynced.WithLabelValues("session").Add(float64(len(records)))
	return nil
}
