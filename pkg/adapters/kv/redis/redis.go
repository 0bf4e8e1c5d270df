package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// Store implements KeyValueStore on Redis. It is the shared-state backend
// for trigger bookkeeping in multi-instance deployments.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore creates a Redis-backed key-value store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, prefix: "nectar:kv:"}
}

// Get returns the value for key, or ports.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ports.ErrNotFound
		}
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return val, nil
}

// Set stores value under key with an optional TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Increment atomically increments the counter at key, setting the TTL only
// when the key is created by this increment.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := s.prefix + key

	n, err := s.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key: %w", err)
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, full, ttl).Err(); err != nil {
			return n, fmt.Errorf("failed to set TTL: %w", err)
		}
	}
	return n, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}
