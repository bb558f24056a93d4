// Package payout transfers the round reward from the treasury to the winner.
package payout

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"buymax/internal/domain"
	"buymax/internal/observability"
	"buymax/internal/solana"
)

// ErrBelowMinimum is reported when the computed reward is under the threshold.
var ErrBelowMinimum = errors.New("reward below minimum threshold")

// ErrTreasuryNotConfigured is reported when no treasury secret is available.
var ErrTreasuryNotConfigured = errors.New("dev wallet not configured")

const lamportsPerSOLExp = 9

// BalanceReader reads account balances in lamports.
type BalanceReader interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// Transferer sends lamports and waits for confirmation.
type Transferer interface {
	Transfer(ctx context.Context, from *solana.Keypair, dest string, lamports uint64) (string, error)
}

// ConfigSource provides the treasury credentials.
type ConfigSource interface {
	Current() domain.DynamicConfig
}

// Params controls reward sizing.
type Params struct {
	// RewardPercentage is the share of the treasury balance paid per round, 0..100.
	RewardPercentage decimal.Decimal
	// MinReward in SOL; smaller rewards are not sent.
	MinReward decimal.Decimal
}

// Executor computes and pays round rewards. It never retries a transfer.
type Executor struct {
	balances BalanceReader
	sender   Transferer
	cfg      ConfigSource
	params   Params
	logger   *log.Logger
	now      func() time.Time
}

// Option configures Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithClock overrides the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates a payout executor.
func NewExecutor(balances BalanceReader, sender Transferer, cfg ConfigSource, params Params, opts ...Option) *Executor {
	e := &Executor{
		balances: balances,
		sender:   sender,
		cfg:      cfg,
		params:   params,
		logger:   log.New(os.Stdout, "[payout] ", log.LstdFlags|log.Lshortfile),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RewardPercentage returns the configured reward share.
func (e *Executor) RewardPercentage() decimal.Decimal {
	return e.params.RewardPercentage
}

// TreasuryBalance returns the treasury balance in SOL. Any failure,
// including a missing treasury, yields zero.
func (e *Executor) TreasuryBalance(ctx context.Context) decimal.Decimal {
	pub := e.cfg.Current().TreasuryPublicKey
	if pub == "" {
		return decimal.Zero
	}

	lamports, err := e.balances.GetBalance(ctx, pub)
	if err != nil {
		e.logger.Printf("Failed to read treasury balance: %v", err)
		return decimal.Zero
	}

	sol := LamportsToSOL(lamports)
	observability.SetTreasuryBalance(sol.InexactFloat64())
	return sol
}

// ComputeReward returns balance × percentage / 100, never negative.
func (e *Executor) ComputeReward(ctx context.Context) decimal.Decimal {
	return e.rewardFor(e.TreasuryBalance(ctx))
}

func (e *Executor) rewardFor(balance decimal.Decimal) decimal.Decimal {
	reward := balance.Mul(e.params.RewardPercentage).Div(decimal.NewFromInt(100))
	if reward.IsNegative() {
		return decimal.Zero
	}
	return reward
}

// PayWinner sends the current reward to wallet. It blocks until the
// transfer is confirmed or has failed; the outcome is always reported in
// the result, never as an error.
func (e *Executor) PayWinner(ctx context.Context, wallet string, buyCount int) domain.PayoutResult {
	start := time.Now()

	reward := e.ComputeReward(ctx)
	if reward.LessThan(e.params.MinReward) {
		e.logger.Printf("Reward (%s SOL) below minimum threshold %s", reward.StringFixed(4), e.params.MinReward)
		observability.RecordPayout("below_threshold", 0, time.Since(start).Seconds())
		return e.failure(ErrBelowMinimum.Error(), "")
	}

	cfg := e.cfg.Current()
	if !cfg.TreasurySecret.IsSet() {
		observability.RecordPayout("failed", 0, time.Since(start).Seconds())
		return e.failure(ErrTreasuryNotConfigured.Error(), "")
	}
	kp, err := solana.ParseSecretKey(cfg.TreasurySecret.Reveal())
	if err != nil {
		observability.RecordPayout("failed", 0, time.Since(start).Seconds())
		return e.failure(err.Error(), "")
	}

	lamports := SOLToLamports(reward)
	e.logger.Printf("Sending %s SOL to %s (%d buys)", reward.StringFixed(4), wallet, buyCount)

	sig, err := e.sender.Transfer(ctx, kp, wallet, lamports)
	if err != nil {
		e.logger.Printf("Payout failed: %v", err)
		observability.RecordPayout("failed", 0, time.Since(start).Seconds())
		return e.failure(err.Error(), sig)
	}

	paid := LamportsToSOL(lamports)
	e.logger.Printf("Payout successful, signature %s", sig)
	observability.RecordPayout("success", paid.InexactFloat64(), time.Since(start).Seconds())

	return domain.PayoutResult{
		Success:   true,
		Reward:    paid,
		Signature: sig,
		Timestamp: e.now().UnixMilli(),
	}
}

func (e *Executor) failure(msg, sig string) domain.PayoutResult {
	return domain.PayoutResult{
		Success:   false,
		Reward:    decimal.Zero,
		Signature: sig,
		Error:     msg,
		Timestamp: e.now().UnixMilli(),
	}
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportsPerSOLExp)
}

// SOLToLamports converts sol to lamports, rounding down.
func SOLToLamports(sol decimal.Decimal) uint64 {
	if sol.IsNegative() {
		return 0
	}
	return sol.Shift(lamportsPerSOLExp).Floor().BigInt().Uint64()
}
