package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig represents Redis Streams configuration
type RedisConfig struct {
	URL      string // Redis URL (e.g., redis://localhost:6379)
	Password string // Optional password
	DB       int    // Database number (default: 0)
	Stream   string // Stream holding all events (default: "beegfs-mirror-events")
	MaxLen   int64  // Approximate stream length cap (default: 100000)
}

// RedisQueue implements Queue using a single Redis stream. Every entry
// carries its subject; subscribers tail the stream and filter by pattern.
type RedisQueue struct {
	client        *redis.Client
	config        RedisConfig
	subscriptions map[string]context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.RWMutex
}

// newRedisQueue creates a new Redis Streams queue instance
func newRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if cfg.Stream == "" {
		cfg.Stream = "beegfs-mirror-events"
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 100000
	}

	return &RedisQueue{
		client:        client,
		config:        cfg,
		subscriptions: make(map[string]context.CancelFunc),
	}, nil
}

// Publish appends the message to the event stream
func (q *RedisQueue) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.config.Stream,
		MaxLen: q.config.MaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"subject": subject,
			"data":    data,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to Redis stream %s: %w", q.config.Stream, err)
	}
	return nil
}

// Subscribe tails the stream from now on
func (q *RedisQueue) Subscribe(pattern string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subscriptions[pattern]; exists {
		return fmt.Errorf("already subscribed to subject: %s", pattern)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.subscriptions[pattern] = cancel
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.readStream(ctx, pattern, handler)
	}()
	return nil
}

// readStream reads entries after lastID until ctx ends
func (q *RedisQueue) readStream(ctx context.Context, pattern string, handler MessageHandler) {
	lastID := "$"
	for ctx.Err() == nil {
		streams, err := q.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{q.config.Stream, lastID},
			Count:   100,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				lastID = msg.ID
				subject, _ := msg.Values["subject"].(string)
				data, ok := msg.Values["data"].(string)
				if !ok || !Match(pattern, subject) {
					continue
				}
				_ = handler(subject, []byte(data))
			}
		}
	}
}

// Unsubscribe unsubscribes from a subject
func (q *RedisQueue) Unsubscribe(pattern string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cancel, exists := q.subscriptions[pattern]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", pattern)
	}
	cancel()
	delete(q.subscriptions, pattern)
	return nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	for pattern, cancel := range q.subscriptions {
		cancel()
		delete(q.subscriptions, pattern)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return q.client.Close()
}
