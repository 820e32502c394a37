package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the JetStream backend
type NATSConfig struct {
	URL      string
	Username string
	Password string
	Prefix   string        // Subjects below Prefix are captured by the event stream
	MaxAge   time.Duration // Retention of the event stream (default: 24h)
}

// NATSQueue implements Queue using NATS JetStream. One stream captures
// every subject below the configured prefix.
type NATSQueue struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	stream        string
	subscriptions map[string]*nats.Subscription
	mu            sync.RWMutex
}

// newNATSQueue connects and makes sure the event stream exists
func newNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	var opts []nats.Option
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	q, err := newNATSQueueWithConn(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

// newNATSQueueWithConn creates a queue on an existing connection
func newNATSQueueWithConn(conn *nats.Conn, cfg NATSConfig) (*NATSQueue, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("nats: subject prefix is required")
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	stream := strings.ToUpper(sanitizeName(cfg.Prefix))
	if _, err := js.StreamInfo(stream); errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{cfg.Prefix + ".>"},
			Storage:  nats.FileStorage,
			MaxAge:   cfg.MaxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", stream, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up stream %s: %w", stream, err)
	}

	return &NATSQueue{
		conn:          conn,
		js:            js,
		stream:        stream,
		subscriptions: make(map[string]*nats.Subscription),
	}, nil
}

// Publish publishes a message and waits for the stream acknowledgement
func (q *NATSQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := q.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an ephemeral consumer delivering new messages only
func (q *NATSQueue) Subscribe(pattern string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subscriptions[pattern]; exists {
		return fmt.Errorf("already subscribed to subject: %s", pattern)
	}

	sub, err := q.js.Subscribe(pattern, func(msg *nats.Msg) {
		if err := handler(msg.Subject, msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.BindStream(q.stream),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
		nats.MaxDeliver(3),
		nats.DeliverNew(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", pattern, err)
	}

	q.subscriptions[pattern] = sub
	return nil
}

// Unsubscribe unsubscribes from a subject
func (q *NATSQueue) Unsubscribe(pattern string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub, exists := q.subscriptions[pattern]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", pattern)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from subject %s: %w", pattern, err)
	}
	delete(q.subscriptions, pattern)
	return nil
}

// Close drops all subscriptions and the connection
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for pattern, sub := range q.subscriptions {
		_ = sub.Unsubscribe()
		delete(q.subscriptions, pattern)
	}
	q.conn.Close()
	return nil
}

// Stream returns the name of the JetStream stream holding the events
func (q *NATSQueue) Stream() string {
	return q.stream
}
