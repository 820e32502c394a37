package utils

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

// HTTP Handler Timeouts
const (
	// DefaultRequestTimeout is the default timeout for admin HTTP requests
	DefaultRequestTimeout = 30 * time.Second

	// CoordinatorTimeout bounds a single coordinator round-trip
	CoordinatorTimeout = 5 * time.Second
)

// Peer transport timeouts
const (
	// DefaultRPCTimeout is the default timeout for a peer request/response call
	DefaultRPCTimeout = 10 * time.Second

	// DefaultRPCRetryInterval is the pause before the single transparent retry
	DefaultRPCRetryInterval = 100 * time.Millisecond

	// GRPCHealthCheckInterval is the interval between health checks for pooled connections
	GRPCHealthCheckInterval = 30 * time.Second

	// GRPCConnectTimeout bounds the reconnect probe of an idle pooled connection
	GRPCConnectTimeout = 5 * time.Second
)

// =============================================================================
// Mirroring and Resync Constants
// =============================================================================

const (
	// DefaultWorkerCount is the number of workers executing client operations
	DefaultWorkerCount = 16

	// DefaultWorkQueueSize is the shared work queue length
	DefaultWorkQueueSize = 1024

	// DefaultNumResyncSlaves is the number of bulk-copy slaves per resync job
	DefaultNumResyncSlaves = 12

	// DefaultSparseChunkSize is the block size used to detect holes in file data
	DefaultSparseChunkSize = 64 * 1024

	// DefaultChangesetCapacity is the number of pending live changes per job
	DefaultChangesetCapacity = 4096

	// DefaultCandidateQueueSize bounds each sync candidate queue
	DefaultCandidateQueueSize = 1024

	// DefaultResyncSafetyThreshold is subtracted from a needs-resync timestamp
	DefaultResyncSafetyThreshold = 10 * time.Minute

	// DefaultAbortRetryBudget bounds abort(wait)
	DefaultAbortRetryBudget = 30 * time.Second

	// DefaultTargetOfflineTimeout marks a silent target Offline
	DefaultTargetOfflineTimeout = 180 * time.Second

	// DefaultSyncInterval is the coordinator refresh period
	DefaultSyncInterval = 10 * time.Second

	// DefaultMaxMessageSize is the largest frame accepted from a peer
	DefaultMaxMessageSize = 4 * 1024 * 1024

	// StragglerDrainInterval is the period of the final queue drain
	StragglerDrainInterval = 50 * time.Millisecond

	// DefaultEventSubject prefixes published resync and state events
	DefaultEventSubject = "beegfs.mirror"
)

// =============================================================================
// Queue Type Constants
// =============================================================================
// QueueType represents the type of message queue
type QueueType string

const (
	// QueueTypeNATS represents NATS JetStream queue (default)
	QueueTypeNATS QueueType = "nats"

	// QueueTypeRedis represents Redis Streams queue
	QueueTypeRedis QueueType = "redis"

	// QueueTypeKafka represents Apache Kafka queue
	QueueTypeKafka QueueType = "kafka"

	// QueueTypeMemory represents in-memory queue (for testing)
	QueueTypeMemory QueueType = "memory"
)
