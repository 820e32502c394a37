package queue

import (
	"fmt"
	"strings"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
	"github.com/ThinkParQ/beegfs-sub011/internal/utils"
)

// NewQueue creates a new Queue instance based on configuration.
// Default is NATS if type is not specified.
func NewQueue(cfg config.QueueConfig) (Queue, error) {
	queueType := utils.QueueType(strings.ToLower(cfg.Type))
	if queueType == "" {
		queueType = utils.QueueTypeNATS
	}
	prefix := cfg.Subject
	if prefix == "" {
		prefix = utils.DefaultEventSubject
	}

	switch queueType {
	case utils.QueueTypeNATS:
		return newNATSQueue(NATSConfig{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			Prefix:   prefix,
		})

	case utils.QueueTypeRedis:
		return newRedisQueue(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
		})

	case utils.QueueTypeKafka:
		return newKafkaQueue(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   prefix,
		})

	case utils.QueueTypeMemory:
		return newMemoryQueue(), nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: nats, redis, kafka, memory)", queueType)
	}
}

// NewPublisher creates a Publisher, or nil when events are disabled
func NewPublisher(cfg config.QueueConfig) (Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return NewQueue(cfg)
}

// NewSubscriber creates a Subscriber based on configuration
func NewSubscriber(cfg config.QueueConfig) (Subscriber, error) {
	return NewQueue(cfg)
}
