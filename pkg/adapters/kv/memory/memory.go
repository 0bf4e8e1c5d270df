package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store implements KeyValueStore with an in-process map. Valid only for
// single-instance deployments; multi-instance deployments must share state
// through the Redis implementation.
type Store struct {
	entries map[string]entry
	mu      sync.Mutex
}

// NewStore creates a new in-memory key-value store.
func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Get returns the value for key, or ports.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(s.entries, key)
		return "", ports.ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key with an optional TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Increment atomically increments the counter at key, setting the TTL on
// first increment only (matching Redis INCR+EXPIRE NX semantics).
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = entry{value: "0"}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}
