package queue

import (
	"context"
	"fmt"
	"sync"
)

const memoryBufferSize = 1024

type memorySubscription struct {
	ch     chan memoryMessage
	cancel context.CancelFunc
}

type memoryMessage struct {
	subject string
	data    []byte
}

// MemoryQueue implements Queue in process. It backs single-node setups
// and tests. A subscriber that falls behind by more than its buffer loses
// messages instead of blocking publishers.
type MemoryQueue struct {
	subscriptions map[string]*memorySubscription
	closed        bool
	mu            sync.RWMutex
	dropped       uint64
}

// newMemoryQueue creates a new in-memory queue instance
func newMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		subscriptions: make(map[string]*memorySubscription),
	}
}

// Publish fans the message out to every matching subscription
func (q *MemoryQueue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	for pattern, sub := range q.subscriptions {
		if !Match(pattern, subject) {
			continue
		}
		select {
		case sub.ch <- memoryMessage{subject: subject, data: dataCopy}:
		default:
			q.dropped++
		}
	}
	return nil
}

// Subscribe starts a goroutine feeding handler
func (q *MemoryQueue) Subscribe(pattern string, handler MessageHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	if _, exists := q.subscriptions[pattern]; exists {
		return fmt.Errorf("already subscribed to subject: %s", pattern)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &memorySubscription{ch: make(chan memoryMessage, memoryBufferSize), cancel: cancel}
	q.subscriptions[pattern] = sub

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub.ch:
				// no redelivery in memory
				_ = handler(msg.subject, msg.data)
			}
		}
	}()
	return nil
}

// Unsubscribe stops a subscription
func (q *MemoryQueue) Unsubscribe(pattern string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sub, exists := q.subscriptions[pattern]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", pattern)
	}
	sub.cancel()
	delete(q.subscriptions, pattern)
	return nil
}

// Close stops all subscriptions
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for pattern, sub := range q.subscriptions {
		sub.cancel()
		delete(q.subscriptions, pattern)
	}
	q.closed = true
	return nil
}

// Dropped returns the number of messages lost to full subscriber buffers
func (q *MemoryQueue) Dropped() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dropped
}
