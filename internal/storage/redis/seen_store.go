// Package redis provides a Redis-backed seen store so scanner deduplication
// survives restarts.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sui-pool-radar/internal/storage"
)

const keyPrefix = "radar:seen:"

// SeenStore implements storage.SeenStore on top of Redis SET NX with TTL.
type SeenStore struct {
	client *redis.Client
}

// NewSeenStore creates a SeenStore from a Redis URL, e.g.
// redis://localhost:6379/0.
func NewSeenStore(ctx context.Context, redisURL string) (*SeenStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &SeenStore{client: client}, nil
}

// Compile-time interface check.
var _ storage.SeenStore = (*SeenStore)(nil)

// MarkSeen records the pool id and reports whether it was newly seen.
// SET NX makes the check-and-mark atomic across processes.
func (s *SeenStore) MarkSeen(ctx context.Context, poolID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+poolID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx seen key: %w", err)
	}
	return ok, nil
}

// IsSeen reports whether the pool id is currently marked.
func (s *SeenStore) IsSeen(ctx context.Context, poolID string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+poolID).Result()
	if err != nil {
		return false, fmt.Errorf("check seen key: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying client.
func (s *SeenStore) Close() error {
	return s.client.Close()
}
