package models

import (
	"errors"
	"fmt"
	"time"
)

// ResyncStartRequest starts a buddy resync of a mirror group.
// Timestamp and Timespan are mutually exclusive; without either the job
// uses the needs-resync marker or does a full resync.
type ResyncStartRequest struct {
	// Timestamp is a unix time in seconds
	Timestamp *int64 `json:"timestamp,omitempty"`
	// Timespan is a Go duration such as "2h30m" counted back from now
	Timespan string `json:"timespan,omitempty"`
	// Restart aborts a running job first; requires Timestamp or Timespan
	Restart bool `json:"restart,omitempty"`
}

// Since resolves the request to the earliest modification time to sync
func (r ResyncStartRequest) Since(now time.Time) (time.Time, error) {
	if r.Timestamp != nil && r.Timespan != "" {
		return time.Time{}, errors.New("timestamp and timespan are mutually exclusive")
	}
	var since time.Time
	switch {
	case r.Timestamp != nil:
		if *r.Timestamp < 0 {
			return time.Time{}, fmt.Errorf("invalid timestamp %d", *r.Timestamp)
		}
		since = time.Unix(*r.Timestamp, 0)
	case r.Timespan != "":
		d, err := time.ParseDuration(r.Timespan)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timespan: %w", err)
		}
		if d <= 0 {
			return time.Time{}, fmt.Errorf("timespan must be positive, got %s", r.Timespan)
		}
		since = now.Add(-d)
	}
	if r.Restart && since.IsZero() {
		return time.Time{}, errors.New("restart requires a timestamp or timespan")
	}
	return since, nil
}

// CreateGroupRequest defines a new mirror group
type CreateGroupRequest struct {
	ID        uint16 `json:"id"`
	Primary   uint16 `json:"primary"`
	Secondary uint16 `json:"secondary"`
}

// SetConsistencyRequest overrides the consistency state of a target
type SetConsistencyRequest struct {
	State string `json:"state"` // good, needs-resync, bad
}
