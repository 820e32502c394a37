package models

import "time"

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// NodeStatusResponse describes the local server
type NodeStatusResponse struct {
	NodeID        uint16            `json:"node_id"`
	Address       string            `json:"address"`
	Targets       []uint16          `json:"targets"`
	Paused        bool              `json:"paused"`
	LastSync      *time.Time        `json:"last_sync,omitempty"`
	LastSyncError string            `json:"last_sync_error,omitempty"`
	Connections   map[string]string `json:"connections,omitempty"`
}

// TargetStateResponse is one entry of the target state table
type TargetStateResponse struct {
	TargetID     uint16 `json:"target_id"`
	NodeID       uint16 `json:"node_id,omitempty"`
	Reachability string `json:"reachability"`
	Consistency  string `json:"consistency"`
	Local        bool   `json:"local"`
}

// TargetStateListResponse lists the target states known to the node
type TargetStateListResponse struct {
	Targets []TargetStateResponse `json:"targets"`
	Count   int                   `json:"count"`
}

// GroupResponse describes a mirror group
type GroupResponse struct {
	ID        uint16 `json:"id"`
	Primary   uint16 `json:"primary"`
	Secondary uint16 `json:"secondary"`
	// Resyncing is set when this node runs a resync job for the group
	Resyncing bool `json:"resyncing"`
}

// GroupListResponse lists mirror groups
type GroupListResponse struct {
	Groups []GroupResponse `json:"groups"`
	Count  int             `json:"count"`
}

// ResyncStartResponse is returned when a resync job was started
type ResyncStartResponse struct {
	GroupID uint16     `json:"group_id"`
	JobID   string     `json:"job_id"`
	State   string     `json:"state"`
	Since   *time.Time `json:"since,omitempty"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
