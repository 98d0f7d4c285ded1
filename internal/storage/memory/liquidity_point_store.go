package memory

import (
	"context"
	"sync"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/storage"
)

// LiquidityPointStore implements storage.LiquidityPointStore in memory.
type LiquidityPointStore struct {
	mu     sync.RWMutex
	points map[string][]*domain.LiquidityPoint // pool id -> observations
}

// NewLiquidityPointStore creates a new in-memory liquidity point store.
func NewLiquidityPointStore() *LiquidityPointStore {
	return &LiquidityPointStore{points: make(map[string][]*domain.LiquidityPoint)}
}

// Compile-time interface check.
var _ storage.LiquidityPointStore = (*LiquidityPointStore)(nil)

// InsertBatch stores a batch of liquidity points.
func (s *LiquidityPointStore) InsertBatch(_ context.Context, points []*domain.LiquidityPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		cp := *p
		s.points[p.PoolID] = append(s.points[p.PoolID], &cp)
	}
	return nil
}

// GetByPool returns all observations for a pool, oldest first.
func (s *LiquidityPointStore) GetByPool(_ context.Context, poolID string) []*domain.LiquidityPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.LiquidityPoint, len(s.points[poolID]))
	copy(out, s.points[poolID])
	return out
}
