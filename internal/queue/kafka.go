package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig represents Apache Kafka configuration
type KafkaConfig struct {
	Brokers      []string      // Kafka broker addresses
	Topic        string        // Topic holding all events; the subject is the message key
	BatchTimeout time.Duration // Batch timeout for producer (default: 10ms)
	RequiredAcks int           // Required acks: 0=none, 1=leader, -1=all (default: 1)
	MaxRetries   int           // Max retries on failure (default: 3)
}

// KafkaQueue implements Queue with one topic. Subscribers read from the
// tail of every partition and filter on the message key.
type KafkaQueue struct {
	config        KafkaConfig
	writer        *kafka.Writer
	readers       map[string]*kafka.Reader
	subscriptions map[string]context.CancelFunc
	mu            sync.RWMutex
}

// newKafkaQueue creates a new Kafka queue instance
func newKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = int(kafka.RequireOne)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &KafkaQueue{
		config: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        kafkaTopic(cfg.Topic),
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			MaxAttempts:  cfg.MaxRetries,
		},
		readers:       make(map[string]*kafka.Reader),
		subscriptions: make(map[string]context.CancelFunc),
	}, nil
}

// kafkaTopic keeps the characters Kafka accepts in topic names
func kafkaTopic(prefix string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, prefix)
}

// Publish writes the message keyed by subject, so all events of one
// subject stay ordered within a partition
func (q *KafkaQueue) Publish(ctx context.Context, subject string, data []byte) error {
	err := q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(subject),
		Value: data,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", q.writer.Topic, err)
	}
	return nil
}

// Subscribe starts reading new messages of the topic
func (q *KafkaQueue) Subscribe(pattern string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.subscriptions[pattern]; exists {
		return fmt.Errorf("already subscribed to topic: %s", pattern)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     q.config.Brokers,
		Topic:       kafkaTopic(q.config.Topic),
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
	})

	ctx, cancel := context.WithCancel(context.Background())
	q.readers[pattern] = reader
	q.subscriptions[pattern] = cancel

	go q.consumeMessages(ctx, reader, pattern, handler)
	return nil
}

// consumeMessages reads messages from Kafka in a loop
func (q *KafkaQueue) consumeMessages(ctx context.Context, reader *kafka.Reader, pattern string, handler MessageHandler) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		subject := string(msg.Key)
		if Match(pattern, subject) {
			_ = handler(subject, msg.Value)
		}
	}
}

// Unsubscribe unsubscribes from a Kafka topic
func (q *KafkaQueue) Unsubscribe(pattern string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancel, exists := q.subscriptions[pattern]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", pattern)
	}
	cancel()
	if reader, ok := q.readers[pattern]; ok {
		_ = reader.Close()
		delete(q.readers, pattern)
	}
	delete(q.subscriptions, pattern)
	return nil
}

// Close closes all Kafka connections
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var lastErr error
	for pattern, cancel := range q.subscriptions {
		cancel()
		if reader, ok := q.readers[pattern]; ok {
			if err := reader.Close(); err != nil {
				lastErr = err
			}
		}
		delete(q.subscriptions, pattern)
		delete(q.readers, pattern)
	}
	if err := q.writer.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

// Stats returns writer stats (for monitoring)
func (q *KafkaQueue) Stats() kafka.WriterStats {
	return q.writer.Stats()
}
