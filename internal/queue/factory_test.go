package queue

import (
	"testing"

	"github.com/ThinkParQ/beegfs-sub011/internal/config"
)

func TestNewQueue_MemoryQueue(t *testing.T) {
	q, err := NewQueue(config.QueueConfig{Type: "MEMORY"})
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	defer func() { _ = q.Close() }()
	if _, ok := q.(*MemoryQueue); !ok {
		t.Errorf("Expected *MemoryQueue, got %T", q)
	}
}

func TestNewQueue_DefaultsToNATS(t *testing.T) {
	url := setupTestNATS(t)

	q, err := NewQueue(config.QueueConfig{URL: url})
	if err != nil {
		t.Fatalf("NewQueue failed: %v", err)
	}
	defer func() { _ = q.Close() }()
	nq, ok := q.(*NATSQueue)
	if !ok {
		t.Fatalf("Expected *NATSQueue, got %T", q)
	}
	if nq.Stream() != "BEEGFS_MIRROR" {
		t.Errorf("Expected default subject prefix, got stream %q", nq.Stream())
	}
}

func TestNewQueue_UnsupportedType(t *testing.T) {
	if _, err := NewQueue(config.QueueConfig{Type: "rabbitmq"}); err == nil {
		t.Error("Expected error for unsupported queue type")
	}
}

func TestNewPublisher_Disabled(t *testing.T) {
	p, err := NewPublisher(config.QueueConfig{Enabled: false, Type: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Errorf("Expected nil publisher when disabled, got %T", p)
	}

	p, err = NewPublisher(config.QueueConfig{Enabled: true, Type: "memory"})
	if err != nil || p == nil {
		t.Fatalf("Expected publisher, got %v, %v", p, err)
	}
	_ = p.Close()
}
