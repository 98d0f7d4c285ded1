package clickhouse

import (
	"context"
	"fmt"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/storage"
)

// LiquidityPointStore implements storage.LiquidityPointStore using ClickHouse.
type LiquidityPointStore struct {
	conn *Conn
}

// NewLiquidityPointStore creates a new LiquidityPointStore.
func NewLiquidityPointStore(conn *Conn) *LiquidityPointStore {
	return &LiquidityPointStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LiquidityPointStore = (*LiquidityPointStore)(nil)

// InsertBatch stores a batch of liquidity points. Duplicate observations are
// left to the ReplacingMergeTree engine to collapse.
func (s *LiquidityPointStore) InsertBatch(ctx context.Context, points []*domain.LiquidityPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO liquidity_points (pool_id, observed_at_ms, liquidity)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		if err := batch.Append(p.PoolID, uint64(p.ObservedAt), p.Liquidity); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPool retrieves all observations for a pool, ordered by time ASC.
func (s *LiquidityPointStore) GetByPool(ctx context.Context, poolID string) ([]*domain.LiquidityPoint, error) {
	query := `
		SELECT pool_id, observed_at_ms, liquidity
		FROM liquidity_points
		WHERE pool_id = ?
		ORDER BY observed_at_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("query by pool id: %w", err)
	}
	defer rows.Close()

	var points []*domain.LiquidityPoint
	for rows.Next() {
		var p domain.LiquidityPoint
		var observedAt uint64

		if err := rows.Scan(&p.PoolID, &observedAt, &p.Liquidity); err != nil {
			return nil, fmt.Errorf("scan liquidity point row: %w", err)
		}
		p.ObservedAt = int64(observedAt)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate liquidity point rows: %w", err)
	}

	return points, nil
}
