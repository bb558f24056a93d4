package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// StateStore implements storage.StateStore using PostgreSQL.
// The state is a single row; winners are kept as JSONB.
type StateStore struct {
	pool *Pool
}

// NewStateStore creates a new StateStore.
func NewStateStore(pool *Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// LoadState returns the stored state. Returns ErrNotFound if none was saved.
func (s *StateStore) LoadState(ctx context.Context) (st *domain.EngineState, err error) {
	defer func(start time.Time) { observe("load_state", start, err) }(time.Now())

	query := `
		SELECT round_number, total_payouts::text, winners, last_winner
		FROM engine_state
		WHERE id = 1
	`

	var (
		roundNumber int64
		total       string
		winners     []byte
		lastWinner  []byte
	)
	err = s.pool.QueryRow(ctx, query).Scan(&roundNumber, &total, &winners, &lastWinner)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load engine state: %w", err)
	}

	st = &domain.EngineState{RoundNumber: roundNumber}
	if st.TotalPayouts, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total payouts: %w", err)
	}
	if err := json.Unmarshal(winners, &st.Winners); err != nil {
		return nil, fmt.Errorf("decode winners: %w", err)
	}
	if len(lastWinner) > 0 {
		var lw domain.RoundResult
		if err := json.Unmarshal(lastWinner, &lw); err != nil {
			return nil, fmt.Errorf("decode last winner: %w", err)
		}
		st.LastWinner = &lw
	}
	return st, nil
}

// SaveState replaces the stored state.
func (s *StateStore) SaveState(ctx context.Context, st *domain.EngineState) (err error) {
	if st == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("save_state", start, err) }(time.Now())

	winners := st.Winners
	if winners == nil {
		winners = []domain.RoundResult{}
	}
	winnersJSON, err := json.Marshal(winners)
	if err != nil {
		return fmt.Errorf("encode winners: %w", err)
	}

	var lastWinnerJSON []byte
	if st.LastWinner != nil {
		if lastWinnerJSON, err = json.Marshal(st.LastWinner); err != nil {
			return fmt.Errorf("encode last winner: %w", err)
		}
	}

	query := `
		INSERT INTO engine_state (id, round_number, total_payouts, winners, last_winner, updated_at)
		VALUES (1, $1, $2::numeric, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			round_number = EXCLUDED.round_number,
			total_payouts = EXCLUDED.total_payouts,
			winners = EXCLUDED.winners,
			last_winner = EXCLUDED.last_winner,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		st.RoundNumber,
		st.TotalPayouts.String(),
		winnersJSON,
		lastWinnerJSON,
	)
	if err != nil {
		return fmt.Errorf("save engine state: %w", err)
	}
	return nil
}
