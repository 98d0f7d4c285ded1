package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/storage"
)

func TestCandidateStore_InsertAndGet(t *testing.T) {
	s := NewCandidateStore()
	ctx := context.Background()

	c := &domain.Candidate{
		PoolID:      "0xpool",
		SourceName:  "cetus",
		CoinA:       "0x2::sui::SUI",
		CoinB:       "0xabc::usdc::USDC",
		CreatedAtMs: 1700000000000,
	}
	require.NoError(t, s.Insert(ctx, c))

	got, err := s.GetByID(ctx, "0xpool")
	require.NoError(t, err)
	assert.Equal(t, c.PoolID, got.PoolID)
	assert.Equal(t, c.CoinA, got.CoinA)

	// The stored copy is independent of the caller's struct.
	c.CoinA = "mutated"
	got, err = s.GetByID(ctx, "0xpool")
	require.NoError(t, err)
	assert.Equal(t, "0x2::sui::SUI", got.CoinA)
}

func TestCandidateStore_DuplicateInsert(t *testing.T) {
	s := NewCandidateStore()
	ctx := context.Background()

	c := &domain.Candidate{PoolID: "0xdup", SourceName: "cetus"}
	require.NoError(t, s.Insert(ctx, c))

	err := s.Insert(ctx, c)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCandidateStore_InvalidInput(t *testing.T) {
	s := NewCandidateStore()
	ctx := context.Background()

	assert.ErrorIs(t, s.Insert(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.Insert(ctx, &domain.Candidate{}), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.RecordVerdict(ctx, nil), storage.ErrInvalidInput)
}

func TestCandidateStore_NotFound(t *testing.T) {
	s := NewCandidateStore()
	ctx := context.Background()

	_, err := s.GetByID(ctx, "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetVerdict(ctx, "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCandidateStore_VerdictOverwrite(t *testing.T) {
	s := NewCandidateStore()
	ctx := context.Background()

	require.NoError(t, s.RecordVerdict(ctx, &domain.Verdict{
		PoolID: "0xpool", State: domain.StateRejected, Reason: "first", Attempts: 3,
	}))
	require.NoError(t, s.RecordVerdict(ctx, &domain.Verdict{
		PoolID: "0xpool", State: domain.StateValidated, Attempts: 1,
	}))

	v, err := s.GetVerdict(ctx, "0xpool")
	require.NoError(t, err)
	assert.Equal(t, domain.StateValidated, v.State)
	assert.Equal(t, 1, v.Attempts)
}

func TestSeenStore_MarkAndExpire(t *testing.T) {
	s := NewSeenStore()
	ctx := context.Background()

	fresh, err := s.MarkSeen(ctx, "0xpool", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, fresh, "first mark should report newly seen")

	fresh, err = s.MarkSeen(ctx, "0xpool", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, fresh, "second mark within TTL should not be new")

	seen, err := s.IsSeen(ctx, "0xpool")
	require.NoError(t, err)
	assert.True(t, seen)

	time.Sleep(60 * time.Millisecond)

	seen, err = s.IsSeen(ctx, "0xpool")
	require.NoError(t, err)
	assert.False(t, seen, "mark should expire after TTL")

	fresh, err = s.MarkSeen(ctx, "0xpool", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh, "expired pool counts as newly seen again")
}

func TestLiquidityPointStore_InsertBatch(t *testing.T) {
	s := NewLiquidityPointStore()
	ctx := context.Background()

	points := []*domain.LiquidityPoint{
		{PoolID: "0xpool", Liquidity: 100, ObservedAt: 1},
		{PoolID: "0xpool", Liquidity: 120, ObservedAt: 2},
		{PoolID: "0xother", Liquidity: 50, ObservedAt: 1},
	}
	require.NoError(t, s.InsertBatch(ctx, points))

	got := s.GetByPool(ctx, "0xpool")
	require.Len(t, got, 2)
	assert.Equal(t, float64(100), got[0].Liquidity)
	assert.Equal(t, float64(120), got[1].Liquidity)

	assert.Len(t, s.GetByPool(ctx, "0xother"), 1)
	assert.Empty(t, s.GetByPool(ctx, "0xnone"))
}

func TestLiquidityPointStore_RejectsInvalid(t *testing.T) {
	s := NewLiquidityPointStore()
	ctx := context.Background()

	err := s.InsertBatch(ctx, []*domain.LiquidityPoint{{PoolID: ""}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
