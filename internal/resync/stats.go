package resync

import (
	"sync/atomic"
	"time"
)

// JobState is the lifecycle state of a resync job
type JobState int32

const (
	StateNotStarted JobState = iota
	StateRunning
	StateSuccess
	StateErrors
	StateFailure
	StateInterrupted
)

func (s JobState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateErrors:
		return "errors"
	case StateFailure:
		return "failure"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the job has finished
func (s JobState) Terminal() bool {
	return s >= StateSuccess
}

// counters are updated by the slaves while the job runs
type counters struct {
	discoveredDirs  atomic.Uint64
	discoveredFiles atomic.Uint64
	matchedDirs     atomic.Uint64
	matchedFiles    atomic.Uint64
	syncedDirs      atomic.Uint64
	syncedFiles     atomic.Uint64
	errorDirs       atomic.Uint64
	errorFiles      atomic.Uint64

	gatherErrors     atomic.Uint64
	modObjectsSynced atomic.Uint64
	modSyncErrors    atomic.Uint64
	sessionsToSync   atomic.Uint64
	sessionsSynced   atomic.Uint64
	sessionSyncError atomic.Bool
}

func (c *counters) errors() uint64 {
	return c.errorDirs.Load() + c.errorFiles.Load() + c.gatherErrors.Load() + c.modSyncErrors.Load()
}

// Stats is a point-in-time view of a job
type Stats struct {
	JobID     string    `json:"job_id"`
	GroupID   uint16    `json:"group_id"`
	Primary   uint16    `json:"primary"`
	Secondary uint16    `json:"secondary"`
	State     string    `json:"state"`
	Since     time.Time `json:"since,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`

	DiscoveredDirs  uint64 `json:"discovered_dirs"`
	DiscoveredFiles uint64 `json:"discovered_files"`
	MatchedDirs     uint64 `json:"matched_dirs"`
	MatchedFiles    uint64 `json:"matched_files"`
	SyncedDirs      uint64 `json:"synced_dirs"`
	SyncedFiles     uint64 `json:"synced_files"`
	ErrorDirs       uint64 `json:"error_dirs"`
	ErrorFiles      uint64 `json:"error_files"`

	GatherErrors     uint64 `json:"gather_errors"`
	ModObjectsSynced uint64 `json:"mod_objects_synced"`
	ModSyncErrors    uint64 `json:"mod_sync_errors"`
	SessionsToSync   uint64 `json:"sessions_to_sync"`
	SessionsSynced   uint64 `json:"sessions_synced"`
	SessionSyncError bool   `json:"session_sync_error"`
}

func (c *counters) fill(s *Stats) {
	s.DiscoveredDirs = c.discoveredDirs.Load()
	s.DiscoveredFiles = c.discoveredFiles.Load()
	s.MatchedDirs = c.matchedDirs.Load()
	s.MatchedFiles = c.matchedFiles.Load()
	s.SyncedDirs = c.syncedDirs.Load()
	s.SyncedFiles = c.syncedFiles.Load()
	s.ErrorDirs = c.errorDirs.Load()
	s.ErrorFiles = c.errorFiles.Load()
	s.GatherErrors = c.gatherErrors.Load()
	s.ModObjectsSynced = c.modObjectsSynced.Load()
	s.ModSyncErrors = c.modSyncErrors.Load()
	s.SessionsToSync = c.sessionsToSync.Load()
	s.SessionsSynced = c.sessionsSynced.Load()
	s.SessionSyncError = c.sessionSyncError.Load()
}
