package postgres

import (
	"context"
	"fmt"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/storage"
)

// CandidateStore implements storage.CandidateStore using PostgreSQL.
type CandidateStore struct {
	pool *Pool
}

// NewCandidateStore creates a new CandidateStore.
func NewCandidateStore(pool *Pool) *CandidateStore {
	return &CandidateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandidateStore = (*CandidateStore)(nil)

// Insert adds a new candidate. Returns ErrDuplicateKey if pool_id exists.
func (s *CandidateStore) Insert(ctx context.Context, c *domain.Candidate) error {
	if c == nil || c.PoolID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pool_candidates (
			pool_id, source_name, coin_a, coin_b, created_at_ms, discovered_at, liquidity
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		c.PoolID,
		c.SourceName,
		c.CoinA,
		c.CoinB,
		c.CreatedAtMs,
		c.DiscoveredAt,
		c.Liquidity,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// RecordVerdict stores the final validation outcome. Upserts on pool_id so a
// re-run after restart overwrites the earlier verdict.
func (s *CandidateStore) RecordVerdict(ctx context.Context, v *domain.Verdict) error {
	if v == nil || v.PoolID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pool_verdicts (
			pool_id, state, reason, risk_score_a, risk_score_b, attempts, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pool_id) DO UPDATE SET
			state = EXCLUDED.state,
			reason = EXCLUDED.reason,
			risk_score_a = EXCLUDED.risk_score_a,
			risk_score_b = EXCLUDED.risk_score_b,
			attempts = EXCLUDED.attempts,
			decided_at = EXCLUDED.decided_at
	`

	_, err := s.pool.Exec(ctx, query,
		v.PoolID,
		string(v.State),
		v.Reason,
		v.RiskScoreA,
		v.RiskScoreB,
		v.Attempts,
		v.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("record verdict: %w", err)
	}
	return nil
}

// GetByID retrieves a candidate by pool id. Returns ErrNotFound if not exists.
func (s *CandidateStore) GetByID(ctx context.Context, poolID string) (*domain.Candidate, error) {
	query := `
		SELECT pool_id, source_name, coin_a, coin_b, created_at_ms, discovered_at, liquidity
		FROM pool_candidates
		WHERE pool_id = $1
	`

	var c domain.Candidate
	err := s.pool.QueryRow(ctx, query, poolID).Scan(
		&c.PoolID,
		&c.SourceName,
		&c.CoinA,
		&c.CoinB,
		&c.CreatedAtMs,
		&c.DiscoveredAt,
		&c.Liquidity,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get candidate by id: %w", err)
	}
	return &c, nil
}

// GetVerdict retrieves the verdict for a pool id. Returns ErrNotFound when no
// verdict has been recorded.
func (s *CandidateStore) GetVerdict(ctx context.Context, poolID string) (*domain.Verdict, error) {
	query := `
		SELECT pool_id, state, reason, risk_score_a, risk_score_b, attempts, decided_at
		FROM pool_verdicts
		WHERE pool_id = $1
	`

	var v domain.Verdict
	var stateStr string
	err := s.pool.QueryRow(ctx, query, poolID).Scan(
		&v.PoolID,
		&stateStr,
		&v.Reason,
		&v.RiskScoreA,
		&v.RiskScoreB,
		&v.Attempts,
		&v.DecidedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get verdict: %w", err)
	}
	v.State = domain.ValidationState(stateStr)
	return &v, nil
}
