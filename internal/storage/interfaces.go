// Package storage defines the persistence interfaces behind the radar.
// The in-process cache is the authority on live candidate state; these
// stores are write-behind sinks and cross-restart memory.
package storage

import (
	"context"
	"time"

	"sui-pool-radar/internal/domain"
)

// CandidateStore persists discovered candidates and their final verdicts.
type CandidateStore interface {
	// Insert adds a new candidate. Returns ErrDuplicateKey if pool_id
	// already exists.
	Insert(ctx context.Context, c *domain.Candidate) error

	// RecordVerdict stores the final validation outcome for a candidate.
	RecordVerdict(ctx context.Context, v *domain.Verdict) error

	// GetByID retrieves a candidate by pool id. Returns ErrNotFound if it
	// does not exist.
	GetByID(ctx context.Context, poolID string) (*domain.Candidate, error)

	// GetVerdict retrieves the verdict for a pool id. Returns ErrNotFound
	// when no verdict has been recorded.
	GetVerdict(ctx context.Context, poolID string) (*domain.Verdict, error)
}

// SeenStore is a TTL'd set of pool ids that survives restarts, backing the
// scanner's deduplication.
type SeenStore interface {
	// MarkSeen records the pool id and reports whether it was newly seen.
	MarkSeen(ctx context.Context, poolID string, ttl time.Duration) (bool, error)

	// IsSeen reports whether the pool id is currently marked.
	IsSeen(ctx context.Context, poolID string) (bool, error)
}

// LiquidityPointStore is an append-only sink for liquidity observations.
type LiquidityPointStore interface {
	// InsertBatch stores a batch of liquidity points.
	InsertBatch(ctx context.Context, points []*domain.LiquidityPoint) error
}
