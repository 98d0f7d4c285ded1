package memory

import (
	"context"
	"sync"
	"time"

	"sui-pool-radar/internal/storage"
)

// SeenStore implements storage.SeenStore in memory.
type SeenStore struct {
	mu   sync.Mutex
	seen map[string]time.Time // pool id -> expiry
}

// NewSeenStore creates a new in-memory seen store.
func NewSeenStore() *SeenStore {
	return &SeenStore{seen: make(map[string]time.Time)}
}

// Compile-time interface check.
var _ storage.SeenStore = (*SeenStore)(nil)

// MarkSeen records the pool id and reports whether it was newly seen.
func (s *SeenStore) MarkSeen(_ context.Context, poolID string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.seen[poolID]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[poolID] = now.Add(ttl)
	return true, nil
}

// IsSeen reports whether the pool id is currently marked.
func (s *SeenStore) IsSeen(_ context.Context, poolID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.seen[poolID]
	return ok && time.Now().Before(exp), nil
}
