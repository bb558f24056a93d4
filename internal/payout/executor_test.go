package payout

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buymax/internal/domain"
	"buymax/internal/solana"
	"buymax/internal/solana/stub"
)

type fixedConfig struct{ cfg domain.DynamicConfig }

func (f fixedConfig) Current() domain.DynamicConfig { return f.cfg }

func keypair(t *testing.T, b byte) *solana.Keypair {
	t.Helper()
	kp, err := solana.NewKeypairFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	require.NoError(t, err)
	return kp
}

type fixture struct {
	rpc      *stub.RPCClient
	treasury *solana.Keypair
	winner   *solana.Keypair
	exec     *Executor
}

func newFixture(t *testing.T, balanceLamports uint64) *fixture {
	t.Helper()
	treasury := keypair(t, 1)
	winner := keypair(t, 2)

	rpc := stub.NewRPCClient()
	rpc.SetBalance(treasury.Address(), balanceLamports)

	cfg := fixedConfig{cfg: domain.DynamicConfig{
		TreasuryPublicKey: treasury.Address(),
		TreasurySecret:    domain.NewSecret(treasury.SecretBase58()),
	}}
	params := Params{
		RewardPercentage: decimal.NewFromInt(5),
		MinReward:        decimal.RequireFromString("0.001"),
	}
	sender := solana.NewSender(rpc, solana.WithPollInterval(time.Millisecond))
	exec := NewExecutor(rpc, sender, cfg, params,
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time { return time.UnixMilli(1704067200000) }))

	return &fixture{rpc: rpc, treasury: treasury, winner: winner, exec: exec}
}

func TestExecutor_ComputeReward(t *testing.T) {
	f := newFixture(t, 2_000_000_000) // 2 SOL

	assert.True(t, f.exec.TreasuryBalance(context.Background()).Equal(decimal.NewFromInt(2)))
	assert.True(t, f.exec.ComputeReward(context.Background()).Equal(decimal.RequireFromString("0.1")))
}

func TestExecutor_BalanceErrorIsZero(t *testing.T) {
	f := newFixture(t, 2_000_000_000)
	f.rpc.BalanceErr = errors.New("rpc down")

	assert.True(t, f.exec.TreasuryBalance(context.Background()).IsZero())
	assert.True(t, f.exec.ComputeReward(context.Background()).IsZero())
}

func TestExecutor_NoTreasury(t *testing.T) {
	exec := NewExecutor(stub.NewRPCClient(), nil, fixedConfig{}, Params{RewardPercentage: decimal.NewFromInt(5)},
		WithLogger(log.New(io.Discard, "", 0)))
	assert.True(t, exec.TreasuryBalance(context.Background()).IsZero())
}

func TestExecutor_PayWinner(t *testing.T) {
	f := newFixture(t, 2_000_000_000)

	res := f.exec.PayWinner(context.Background(), f.winner.Address(), 7)

	require.True(t, res.Success, res.Error)
	assert.True(t, res.Reward.Equal(decimal.RequireFromString("0.1")))
	assert.NotEmpty(t, res.Signature)
	assert.Equal(t, int64(1704067200000), res.Timestamp)

	sent := f.rpc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, res.Signature, sent[0].Signature)

	// Transfer instruction data sits at the end of the message.
	raw := sent[0].Raw
	assert.Equal(t, uint64(100_000_000), binary.LittleEndian.Uint64(raw[len(raw)-8:]))
}

func TestExecutor_BelowThreshold(t *testing.T) {
	// 5% of 0.01 SOL is 0.0005, under 0.001.
	f := newFixture(t, 10_000_000)

	res := f.exec.PayWinner(context.Background(), f.winner.Address(), 3)

	assert.False(t, res.Success)
	assert.Equal(t, "reward below minimum threshold", res.Error)
	assert.True(t, res.Reward.IsZero())
	assert.Empty(t, f.rpc.Sent(), "no transfer attempted")
}

func TestExecutor_TransferFailure(t *testing.T) {
	f := newFixture(t, 2_000_000_000)
	f.rpc.SendErr = errors.New("node unhealthy")

	res := f.exec.PayWinner(context.Background(), f.winner.Address(), 3)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "node unhealthy")
	assert.True(t, res.Reward.IsZero())
}

func TestExecutor_FailedOnChainKeepsSignature(t *testing.T) {
	f := newFixture(t, 2_000_000_000)
	f.rpc.FailStatus = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

	res := f.exec.PayWinner(context.Background(), f.winner.Address(), 3)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Signature)
	assert.True(t, res.Reward.IsZero())
	assert.Len(t, f.rpc.Sent(), 1, "never retried")
}

func TestExecutor_InvalidWinnerAddress(t *testing.T) {
	f := newFixture(t, 2_000_000_000)

	res := f.exec.PayWinner(context.Background(), "DemoWallet1111111111111111111111111111111111", 3)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, f.rpc.Sent())
}

func TestExecutor_MissingSecret(t *testing.T) {
	f := newFixture(t, 2_000_000_000)
	f.exec.cfg = fixedConfig{cfg: domain.DynamicConfig{TreasuryPublicKey: f.treasury.Address()}}

	res := f.exec.PayWinner(context.Background(), f.winner.Address(), 3)

	assert.False(t, res.Success)
	assert.Equal(t, ErrTreasuryNotConfigured.Error(), res.Error)
}

func TestLamportConversion(t *testing.T) {
	assert.Equal(t, uint64(123_456_789), SOLToLamports(decimal.RequireFromString("0.1234567899")))
	assert.Equal(t, uint64(0), SOLToLamports(decimal.NewFromInt(-1)))
	assert.True(t, LamportsToSOL(1_500_000_000).Equal(decimal.RequireFromString("1.5")))
}
