package storage

import (
	"context"

	"buymax/internal/domain"
)

// ConfigStore persists the dynamic configuration record.
type ConfigStore interface {
	// LoadConfig returns the stored config. Returns ErrNotFound if nothing was saved yet.
	LoadConfig(ctx context.Context) (domain.DynamicConfig, error)

	// SaveConfig replaces the stored config. A failed save never leaves a partial record.
	SaveConfig(ctx context.Context, cfg domain.DynamicConfig) error
}

// StateStore persists engine round bookkeeping.
type StateStore interface {
	// LoadState returns the stored engine state. Returns ErrNotFound if none exists.
	LoadState(ctx context.Context) (*domain.EngineState, error)

	// SaveState replaces the stored engine state.
	SaveState(ctx context.Context, state *domain.EngineState) error
}

// HistoryStore is the bounded, append-only log of closed rounds.
type HistoryStore interface {
	// Append adds a round result, evicting the oldest entries beyond the store's cap.
	// Returns ErrDuplicateKey if the round number is already recorded.
	Append(ctx context.Context, r *domain.RoundResult) error

	// Recent returns up to limit results, newest first. limit <= 0 returns all retained.
	Recent(ctx context.Context, limit int) ([]domain.RoundResult, error)
}

// DefaultHistoryCap is the number of round results retained by history stores.
const DefaultHistoryCap = 1000
