package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/beegfs-mirror")
	}

	setDefaults(v)

	// BEEGFS_MIRROR_MIRROR_NUM_RESYNC_SLAVES overrides mirror.num_resync_slaves
	v.SetEnvPrefix("BEEGFS_MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)

	v.SetDefault("node.node_id", d.Node.NodeID)
	v.SetDefault("node.data_dir", d.Node.DataDir)
	v.SetDefault("node.targets", []int{})

	v.SetDefault("etcd.endpoints", d.Etcd.Endpoints)
	v.SetDefault("etcd.dial_timeout", d.Etcd.DialTimeout.String())
	v.SetDefault("etcd.prefix", d.Etcd.Prefix)

	v.SetDefault("queue.enabled", d.Queue.Enabled)
	v.SetDefault("queue.type", d.Queue.Type)
	v.SetDefault("queue.url", d.Queue.URL)
	v.SetDefault("queue.subject", d.Queue.Subject)

	v.SetDefault("mirror.worker_count", d.Mirror.WorkerCount)
	v.SetDefault("mirror.work_queue_size", d.Mirror.WorkQueueSize)
	v.SetDefault("mirror.num_resync_slaves", d.Mirror.NumResyncSlaves)
	v.SetDefault("mirror.rpc_timeout", d.Mirror.RPCTimeout.String())
	v.SetDefault("mirror.rpc_retry_interval", d.Mirror.RPCRetryInterval.String())
	v.SetDefault("mirror.sparse_chunk_size", d.Mirror.SparseChunkSize)
	v.SetDefault("mirror.changeset_capacity", d.Mirror.ChangesetCapacity)
	v.SetDefault("mirror.candidate_queue_size", d.Mirror.CandidateQueueSize)
	v.SetDefault("mirror.resync_safety_threshold", d.Mirror.ResyncSafetyThreshold.String())
	v.SetDefault("mirror.abort_retry_budget", d.Mirror.AbortRetryBudget.String())
	v.SetDefault("mirror.error_threshold", d.Mirror.ErrorThreshold)
	v.SetDefault("mirror.target_offline_timeout", d.Mirror.TargetOfflineTimeout.String())
	v.SetDefault("mirror.sync_interval", d.Mirror.SyncInterval.String())
	v.SetDefault("mirror.max_message_size", d.Mirror.MaxMessageSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 8008,
			GRPCPort: 8003,
		},
		Node: NodeConfig{
			NodeID:  1,
			DataDir: "./data",
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://localhost:2379"},
			DialTimeout: 5 * time.Second,
			Prefix:      "/beegfs/mirror",
		},
		Queue: QueueConfig{
			Enabled: false,
			Type:    string(utils.QueueTypeNATS),
			URL:     "nats://localhost:4222",
			Subject: "beegfs.mirror",
		},
		Mirror: MirrorConfig{
			WorkerCount:           utils.DefaultWorkerCount,
			WorkQueueSize:         utils.DefaultWorkQueueSize,
			NumResyncSlaves:       utils.DefaultNumResyncSlaves,
			RPCTimeout:            utils.DefaultRPCTimeout,
			RPCRetryInterval:      utils.DefaultRPCRetryInterval,
			SparseChunkSize:       utils.DefaultSparseChunkSize,
			ChangesetCapacity:     utils.DefaultChangesetCapacity,
			CandidateQueueSize:    utils.DefaultCandidateQueueSize,
			ResyncSafetyThreshold: utils.DefaultResyncSafetyThreshold,
			AbortRetryBudget:      utils.DefaultAbortRetryBudget,
			TargetOfflineTimeout:  utils.DefaultTargetOfflineTimeout,
			SyncInterval:          utils.DefaultSyncInterval,
			MaxMessageSize:        utils.DefaultMaxMessageSize,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
