// Package queue carries resync and consistency-state events between
// servers and operator tools. Subjects are dot separated; subscriptions
// accept the usual "*" (one token) and ">" (rest of subject) wildcards on
// every backend.
package queue

import (
	"context"
	"strings"
)

// Publisher publishes messages to a queue
type Publisher interface {
	// Publish publishes a message to a subject
	Publish(ctx context.Context, subject string, data []byte) error

	// Close closes the connection
	Close() error
}

// Subscriber subscribes to messages from a queue
type Subscriber interface {
	// Subscribe registers handler for subjects matching pattern. Only
	// messages published after the call are delivered.
	Subscribe(pattern string, handler MessageHandler) error

	// Unsubscribe removes the subscription made with pattern
	Unsubscribe(pattern string) error

	// Close closes the connection
	Close() error
}

// MessageHandler handles incoming messages
type MessageHandler func(subject string, data []byte) error

// Queue combines Publisher and Subscriber interfaces
type Queue interface {
	Publisher
	Subscriber
}

// Match reports whether subject matches pattern
func Match(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// sanitizeName replaces characters not allowed in stream or consumer names.
// Allowed: A-Z, a-z, 0-9, dash (-) and underscore (_)
func sanitizeName(subject string) string {
	result := make([]byte, 0, len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			result = append(result, c)
		} else {
			result = append(result, '_')
		}
	}
	return string(result)
}
