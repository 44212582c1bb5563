// Package redis provides a Redis-backed store.Store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/progress-tracker/internal/store"
)

const (
	defaultNamespace = "progress:"
	indexSuffix      = "index"
	// noExpiryScore ranks keys without a TTL after every real deadline.
	noExpiryScore = float64(1 << 53)
)

// Config controls the Redis connection.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	Namespace string
}

// Clock returns the current time used for index expiry scores.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// KVStore stores each record as a plain string key with native expiry and
// maintains a sorted-set index scored by each key's expiry deadline, so
// enumeration never depends on the server-side SCAN command.
type KVStore struct {
	client    goredis.UniversalClient
	namespace string
	index     string
	clock     Clock
}

// NewKVStore dials Redis and verifies connectivity.
func NewKVStore(ctx context.Context, cfg Config) (*KVStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("store.redis.addr is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		PoolTimeout:  5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewKVStoreWithClient(client, cfg.Namespace, nil), nil
}

// NewKVStoreWithClient wraps an existing client. A nil clock uses the system clock.
func NewKVStoreWithClient(client goredis.UniversalClient, namespace string, clock Clock) *KVStore {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &KVStore{
		client:    client,
		namespace: namespace,
		index:     namespace + indexSuffix,
		clock:     clock,
	}
}

// Put writes the value and its index entry in one MULTI/EXEC block.
func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	score := noExpiryScore
	if ttl > 0 {
		score = float64(s.clock.Now().Add(ttl).UnixMilli())
	} else {
		ttl = 0
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.namespace+key, value, ttl)
		pipe.ZAdd(ctx, s.index, goredis.Z{Score: score, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

// Get returns the value or store.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the value and its index entry.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.namespace+key)
		pipe.ZRem(ctx, s.index, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Scan prunes index entries whose deadline has passed, then filters the
// remaining members by prefix.
func (s *KVStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	now := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	if err := s.client.ZRemRangeByScore(ctx, s.index, "-inf", now).Err(); err != nil {
		return nil, fmt.Errorf("redis prune index: %w", err)
	}
	members, err := s.client.ZRange(ctx, s.index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read index: %w", err)
	}
	keys := make([]string, 0, len(members))
	for _, member := range members {
		if strings.HasPrefix(member, prefix) {
			keys = append(keys, member)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping reports whether Redis is reachable.
func (s *KVStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *KVStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying client so the notifier can share the pool.
func (s *KVStore) Client() goredis.UniversalClient {
	return s.client
}
