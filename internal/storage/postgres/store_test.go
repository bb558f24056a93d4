package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

func TestStateStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStateStore(pool)

	_, err := store.LoadState(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	winner := domain.RoundResult{
		RoundNumber: 4,
		Wallet:      "Winner1111111111111111111111111111111111111",
		BuyCount:    9,
		Reward:      decimal.RequireFromString("0.125"),
		Signature:   "sig-4",
		Success:     true,
		Timestamp:   1704067200000,
	}
	state := &domain.EngineState{
		RoundNumber:  5,
		Winners:      []domain.RoundResult{winner},
		TotalPayouts: decimal.RequireFromString("0.125"),
		LastWinner:   &winner,
	}
	require.NoError(t, store.SaveState(ctx, state))

	loaded, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), loaded.RoundNumber)
	assert.True(t, loaded.TotalPayouts.Equal(state.TotalPayouts))
	require.Len(t, loaded.Winners, 1)
	assert.Equal(t, winner.Wallet, loaded.Winners[0].Wallet)
	assert.True(t, loaded.Winners[0].Reward.Equal(winner.Reward))
	require.NotNil(t, loaded.LastWinner)
	assert.Equal(t, "sig-4", loaded.LastWinner.Signature)

	// Overwrite with an empty-round state.
	require.NoError(t, store.SaveState(ctx, &domain.EngineState{RoundNumber: 6, Winners: loaded.Winners, TotalPayouts: loaded.TotalPayouts}))
	loaded, err = store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), loaded.RoundNumber)
	assert.Nil(t, loaded.LastWinner)
}

func TestHistoryStore_AppendRecentCap(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewHistoryStore(pool, 3)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.Append(ctx, &domain.RoundResult{
			RoundNumber: i,
			Reward:      decimal.NewFromInt(i).Shift(-3),
			Timestamp:   1704067200000 + i,
		}))
	}

	err := store.Append(ctx, &domain.RoundResult{RoundNumber: 5, Reward: decimal.Zero})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	results, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{results[0].RoundNumber, results[1].RoundNumber, results[2].RoundNumber})
	assert.True(t, results[0].Reward.Equal(decimal.RequireFromString("0.005")))

	limited, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(5), limited[0].RoundNumber)
}
