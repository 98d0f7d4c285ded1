package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/storage"
	"sui-pool-radar/internal/storage/migrations"
	pgstore "sui-pool-radar/internal/storage/postgres"
)

func TestCandidateStore_InsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewCandidateStore(pool)
	ctx := context.Background()

	c := &domain.Candidate{
		PoolID:       "0xpool1",
		SourceName:   "cetus",
		CoinA:        "0x2::sui::SUI",
		CoinB:        "0xabc::usdc::USDC",
		CreatedAtMs:  1700000000000,
		DiscoveredAt: 1700000000500,
		Liquidity:    ptr(12345.0),
	}
	require.NoError(t, store.Insert(ctx, c))

	got, err := store.GetByID(ctx, "0xpool1")
	require.NoError(t, err)
	assert.Equal(t, c.PoolID, got.PoolID)
	assert.Equal(t, c.SourceName, got.SourceName)
	assert.Equal(t, c.CoinA, got.CoinA)
	assert.Equal(t, c.CoinB, got.CoinB)
	assert.Equal(t, c.CreatedAtMs, got.CreatedAtMs)
	assert.Equal(t, c.DiscoveredAt, got.DiscoveredAt)
	require.NotNil(t, got.Liquidity)
	assert.Equal(t, 12345.0, *got.Liquidity)
}

func TestCandidateStore_InsertDuplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewCandidateStore(pool)
	ctx := context.Background()

	c := &domain.Candidate{PoolID: "0xdup", SourceName: "cetus", CoinA: "a", CoinB: "b"}
	require.NoError(t, store.Insert(ctx, c))

	err := store.Insert(ctx, c)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCandidateStore_GetMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewCandidateStore(pool)
	ctx := context.Background()

	_, err := store.GetByID(ctx, "0xabsent")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetVerdict(ctx, "0xabsent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCandidateStore_RecordVerdict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewCandidateStore(pool)
	ctx := context.Background()

	c := &domain.Candidate{PoolID: "0xjudged", SourceName: "turbos", CoinA: "a", CoinB: "b"}
	require.NoError(t, store.Insert(ctx, c))

	decided := time.Now().UnixMilli()
	require.NoError(t, store.RecordVerdict(ctx, &domain.Verdict{
		PoolID:     "0xjudged",
		State:      domain.StateRejected,
		Reason:     "no liquidity lock",
		RiskScoreA: 2.5,
		RiskScoreB: 9,
		Attempts:   3,
		DecidedAt:  decided,
	}))

	v, err := store.GetVerdict(ctx, "0xjudged")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, v.State)
	assert.Equal(t, "no liquidity lock", v.Reason)
	assert.Equal(t, 2.5, v.RiskScoreA)
	assert.Equal(t, float64(9), v.RiskScoreB)
	assert.Equal(t, 3, v.Attempts)
	assert.Equal(t, decided, v.DecidedAt)

	// A later verdict for the same pool overwrites the earlier one.
	require.NoError(t, store.RecordVerdict(ctx, &domain.Verdict{
		PoolID:    "0xjudged",
		State:     domain.StateValidated,
		Attempts:  4,
		DecidedAt: decided + 1000,
	}))

	v, err = store.GetVerdict(ctx, "0xjudged")
	require.NoError(t, err)
	assert.Equal(t, domain.StateValidated, v.State)
	assert.Equal(t, 4, v.Attempts)
}

func TestMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()

	// setupTestDB already ran the migrations once; a second run must be a
	// no-op, not an error.
	ctx := context.Background()
	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool))
}
