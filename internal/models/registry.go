package models

import "time"

// NodeInfo is the record a server keeps alive in the coordinator while it runs
type NodeInfo struct {
	ID        uint16       `json:"id"`
	Address   string       `json:"address"` // host:port of the peer transport
	Version   string       `json:"version"`
	Capacity  Capacity     `json:"capacity"`
	Targets   []TargetInfo `json:"targets"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Capacity represents disk capacity of the data directory
type Capacity struct {
	DiskTotal     int64 `json:"disk_total"`     // bytes
	DiskUsed      int64 `json:"disk_used"`      // bytes
	DiskAvailable int64 `json:"disk_available"` // bytes
}

// TargetInfo describes a local target directory
type TargetInfo struct {
	TargetID    uint16 `json:"target_id"`
	DataSize    int64  `json:"data_size"` // bytes
	NeedsResync bool   `json:"needs_resync"`
}
