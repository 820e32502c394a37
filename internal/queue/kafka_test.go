package queue

import (
	"context"
	"os"
	"testing"
	"time"
)

// isKafkaAvailable is opt-in through KAFKA_TEST=1
func isKafkaAvailable() bool {
	return os.Getenv("KAFKA_TEST") == "1"
}

func getKafkaBrokers() []string {
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		return []string{brokers}
	}
	return []string{"localhost:9092"}
}

func TestNewKafkaQueue_Validation(t *testing.T) {
	if _, err := newKafkaQueue(KafkaConfig{Topic: "x"}); err == nil {
		t.Error("Expected error without brokers")
	}
	if _, err := newKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("Expected error without topic")
	}

	q, err := newKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "beegfs.mirror"})
	if err != nil {
		t.Fatalf("newKafkaQueue failed: %v", err)
	}
	defer func() { _ = q.Close() }()
	if q.config.MaxRetries != 3 || q.config.BatchTimeout != 10*time.Millisecond {
		t.Errorf("Defaults not applied: %+v", q.config)
	}
	if q.writer.Topic != "beegfs.mirror" {
		t.Errorf("Unexpected topic %q", q.writer.Topic)
	}
}

func TestKafkaQueue_SubscribeBookkeeping(t *testing.T) {
	q, err := newKafkaQueue(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "beegfs.mirror"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q.Close() }()

	var c collector
	if err := q.Subscribe("beegfs.mirror.>", c.handle); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := q.Subscribe("beegfs.mirror.>", c.handle); err == nil {
		t.Error("Expected error on double subscribe")
	}
	if err := q.Unsubscribe("beegfs.mirror.>"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := q.Unsubscribe("beegfs.mirror.>"); err == nil {
		t.Error("Expected error when not subscribed")
	}
}

func TestKafkaQueue_PublishAndSubscribe(t *testing.T) {
	if !isKafkaAvailable() {
		t.Skip("Kafka not available, skipping test")
	}

	q, err := newKafkaQueue(KafkaConfig{Brokers: getKafkaBrokers(), Topic: "beegfs.mirror.test"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q.Close() }()

	var c collector
	if err := q.Subscribe("beegfs.mirror.resync.*", c.handle); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Publish(ctx, "beegfs.mirror.resync.3", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, func() bool { return c.count() == 1 }, 10*time.Second)
}
