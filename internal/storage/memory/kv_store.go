// Package memory provides an in-memory store.Store.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/progress-tracker/internal/store"
)

// Clock returns the current time; the store uses it to evaluate expiry.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// KVStore provides an in-memory store.Store for development and testing.
// Expired entries are removed lazily on read and scan. keys holds every key
// in entries in ascending order so Scan visits only the prefix range.
type KVStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	keys    []string
	clock   Clock
}

// NewKVStore constructs a KVStore. A nil clock uses the system clock.
func NewKVStore(clock Clock) *KVStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &KVStore{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Put stores a copy of value and re-arms the TTL.
func (s *KVStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		i, _ := slices.BinarySearch(s.keys, key)
		s.keys = slices.Insert(s.keys, i, key)
	}
	s.entries[key] = e
	return nil
}

// Get returns a copy of the stored value.
func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	now := s.clock.Now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	if e.expired(now) {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur.expired(now) {
			s.remove(key)
		}
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Delete removes key if present.
func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key)
	return nil
}

// Scan lists live keys with the prefix in ascending order, dropping expired
// ones in the range as it goes.
func (s *KVStore) Scan(_ context.Context, prefix string) ([]string, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	start, _ := slices.BinarySearch(s.keys, prefix)
	var keys, stale []string
	for _, key := range s.keys[start:] {
		if !strings.HasPrefix(key, prefix) {
			break
		}
		if s.entries[key].expired(now) {
			stale = append(stale, key)
			continue
		}
		keys = append(keys, key)
	}
	for _, key := range stale {
		s.remove(key)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// remove deletes key from both the map and the index. Callers hold mu.
func (s *KVStore) remove(key string) {
	if _, ok := s.entries[key]; !ok {
		return
	}
	delete(s.entries, key)
	if i, found := slices.BinarySearch(s.keys, key); found {
		s.keys = slices.Delete(s.keys, i, i+1)
	}
}

// Len reports the number of entries held, including not-yet-evicted expired ones.
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements store.Store; it performs no action.
func (s *KVStore) Close() error {
	return nil
}
