// Package publisher defines the broadcast contract for tracker notifications.
// Backends live in the memory, redis, pubsub, and kafka subpackages.
package publisher

import "context"

// Publisher pushes one message to a named channel or topic and returns a
// backend-specific message identifier.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Keyed is implemented by payloads that carry a partitioning key. Backends
// with ordered partitions (Kafka) route by it.
type Keyed interface {
	PartitionKey() string
}
