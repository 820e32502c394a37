package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Node    NodeConfig    `mapstructure:"node"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// AuthConfig represents authentication configuration for the admin API
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // Admin HTTP port
	GRPCPort int    `mapstructure:"grpc_port"` // Peer transport port
	// GRPCHost is the advertise address used by buddies and the coordinator.
	// Used when Host is 0.0.0.0 and auto IP detection is not wanted or fails.
	GRPCHost string `mapstructure:"grpc_host"`
}

// NodeConfig describes the local server and the targets it owns
type NodeConfig struct {
	NodeID  uint16   `mapstructure:"node_id"`
	DataDir string   `mapstructure:"data_dir"`
	Targets []uint16 `mapstructure:"targets"` // Local target IDs served by this node
}

// MirrorConfig holds the mirroring and resync tunables
type MirrorConfig struct {
	WorkerCount           int           `mapstructure:"worker_count"`            // Workers processing client operations
	WorkQueueSize         int           `mapstructure:"work_queue_size"`         // Pending operations before Submit blocks
	NumResyncSlaves       int           `mapstructure:"num_resync_slaves"`       // Parallel bulk-copy slaves per job
	RPCTimeout            time.Duration `mapstructure:"rpc_timeout"`             // Per-call timeout for peer requests
	RPCRetryInterval      time.Duration `mapstructure:"rpc_retry_interval"`      // Delay before the single transparent retry
	SparseChunkSize       int           `mapstructure:"sparse_chunk_size"`       // Chunk size for sparse block detection
	ChangesetCapacity     int           `mapstructure:"changeset_capacity"`      // Pending live changes before producers wait
	CandidateQueueSize    int           `mapstructure:"candidate_queue_size"`    // Bounded sync candidate queue size
	ResyncSafetyThreshold time.Duration `mapstructure:"resync_safety_threshold"` // Subtracted from marker timestamps
	AbortRetryBudget      time.Duration `mapstructure:"abort_retry_budget"`      // Max time abort(wait) blocks
	ErrorThreshold        int64         `mapstructure:"error_threshold"`         // Slave errors before the job stops early (0 = never)
	TargetOfflineTimeout  time.Duration `mapstructure:"target_offline_timeout"`  // Missing refresh before a target is Offline
	SyncInterval          time.Duration `mapstructure:"sync_interval"`           // Coordinator refresh and needs-resync check
	MaxMessageSize        uint32        `mapstructure:"max_message_size"`        // Largest accepted frame
}

// EtcdConfig represents etcd configuration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Prefix      string        `mapstructure:"prefix"` // Key prefix for topology and states
}

// QueueConfig represents event queue configuration
type QueueConfig struct {
	Enabled  bool   `mapstructure:"enabled"`  // Publish resync and state events
	Type     string `mapstructure:"type"`     // Queue type: nats (default), redis, kafka, memory
	URL      string `mapstructure:"url"`      // Queue server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Username string `mapstructure:"username"` // Optional authentication
	Password string `mapstructure:"password"` // Optional authentication
	Subject  string `mapstructure:"subject"`  // Subject prefix for published events

	// Redis-specific options
	RedisDB     int    `mapstructure:"redis_db"`     // Redis database number (default: 0)
	RedisStream string `mapstructure:"redis_stream"` // Redis stream prefix (default: "beegfs")

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"` // Kafka broker addresses
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node config: %w", err)
	}

	if err := c.Etcd.Validate(); err != nil {
		return fmt.Errorf("etcd config: %w", err)
	}

	if err := c.Mirror.Validate(); err != nil {
		return fmt.Errorf("mirror config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}

	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port: %d", c.GRPCPort)
	}

	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("http_port and grpc_port cannot be the same")
	}

	return nil
}

// Validate validates node configuration
func (c *NodeConfig) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("node_id must be non-zero")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	seen := make(map[uint16]bool, len(c.Targets))
	for _, id := range c.Targets {
		if id == 0 {
			return fmt.Errorf("target id 0 is reserved")
		}
		if seen[id] {
			return fmt.Errorf("duplicate target id %d", id)
		}
		seen[id] = true
	}

	return nil
}

// Validate validates etcd configuration
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("etcd.dial_timeout must be positive")
	}

	return nil
}

// Validate validates mirror configuration
func (c *MirrorConfig) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("mirror.worker_count must be at least 1")
	}

	if c.NumResyncSlaves < 1 {
		return fmt.Errorf("mirror.num_resync_slaves must be at least 1")
	}

	if c.RPCTimeout <= 0 {
		return fmt.Errorf("mirror.rpc_timeout must be positive")
	}

	if c.SparseChunkSize < 512 {
		return fmt.Errorf("mirror.sparse_chunk_size must be at least 512 bytes")
	}

	if c.ChangesetCapacity < 1 {
		return fmt.Errorf("mirror.changeset_capacity must be at least 1")
	}

	if c.CandidateQueueSize < 1 {
		return fmt.Errorf("mirror.candidate_queue_size must be at least 1")
	}

	if c.ErrorThreshold < 0 {
		return fmt.Errorf("mirror.error_threshold cannot be negative")
	}

	if c.MaxMessageSize < 4096 {
		return fmt.Errorf("mirror.max_message_size must be at least 4096")
	}

	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
