package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("record not found")

// Store is a key/value store with per-key TTL and prefix enumeration.
//
// Every Put re-arms the key's TTL (sliding expiry on write). Reads never
// extend a TTL. Writes to a single key are serialized by the backend; there
// are no multi-key transactions.
type Store interface {
	// Put writes value under key. A ttl <= 0 stores the key without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Scan returns every live key starting with prefix in ascending order.
	Scan(ctx context.Context, prefix string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Purger is implemented by backends whose expired records stay on disk until
// removed explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
