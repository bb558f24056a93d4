package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buymax/internal/domain"
	"buymax/internal/storage"
	"buymax/internal/storage/file"
)

func sampleResults() []domain.RoundResult {
	return []domain.RoundResult{
		{RoundNumber: 3, Wallet: "WalletB", BuyCount: 7, Reward: decimal.RequireFromString("0.05"), Signature: "sig3", Success: true, Timestamp: 1704067200000},
		{RoundNumber: 2, Timestamp: 1704066300000, Reward: decimal.Zero},
		{RoundNumber: 1, Wallet: "WalletA", BuyCount: 2, Reward: decimal.Zero, Error: "reward below minimum threshold", Timestamp: 1704065400000},
	}
}

func TestWriteRounds(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRounds(&buf, sampleResults()))
	out := buf.String()

	assert.Contains(t, out, "paid sig3")
	assert.Contains(t, out, "0.050000000")
	assert.Contains(t, out, "no participants")
	assert.Contains(t, out, "failed: reward below minimum threshold")
	assert.Contains(t, out, "2024-01-01T00:00:00Z")

	buf.Reset()
	require.NoError(t, writeRounds(&buf, nil))
	assert.Contains(t, buf.String(), "No rounds recorded")
}

func TestWriteState(t *testing.T) {
	lw := sampleResults()[0]
	state := &domain.EngineState{RoundNumber: 4, TotalPayouts: decimal.RequireFromString("0.05"), LastWinner: &lw}

	var buf bytes.Buffer
	require.NoError(t, writeState(&buf, state))
	assert.Contains(t, buf.String(), "Next round:    4")
	assert.Contains(t, buf.String(), "0.050000000 SOL")
	assert.Contains(t, buf.String(), "WalletB (round 3, 7 buys)")

	buf.Reset()
	require.NoError(t, writeState(&buf, nil))
	assert.Contains(t, buf.String(), "No engine state stored")
}

func TestRoundsCmd_FileStore(t *testing.T) {
	dir := t.TempDir()
	history := file.NewHistoryStore(filepath.Join(dir, file.HistoryFileName), storage.DefaultHistoryCap)
	for i := len(sampleResults()) - 1; i >= 0; i-- {
		r := sampleResults()[i]
		require.NoError(t, history.Append(context.Background(), &r))
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"rounds", "--data-dir", dir, "--postgres-dsn", "", "--clickhouse-dsn", "", "-n", "2", "-o", "json"})
	require.NoError(t, root.Execute())

	var got []domain.RoundResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].RoundNumber)
	assert.Equal(t, int64(2), got[1].RoundNumber)
}

func TestStateCmd_Missing(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"state", "--data-dir", t.TempDir(), "--postgres-dsn", "", "--clickhouse-dsn", ""})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "No engine state stored")
}
