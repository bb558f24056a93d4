package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// HistoryStore implements storage.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *Pool
	cap  int
}

// NewHistoryStore creates a new HistoryStore retaining at most capacity rounds.
func NewHistoryStore(pool *Pool, capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = storage.DefaultHistoryCap
	}
	return &HistoryStore{pool: pool, cap: capacity}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// Append inserts a round result and trims the oldest rows beyond the cap in
// the same transaction. Returns ErrDuplicateKey if the round exists.
func (s *HistoryStore) Append(ctx context.Context, r *domain.RoundResult) (err error) {
	if r == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("append_round", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO round_results (
			round_number, wallet, buy_count, reward, signature, error, success, timestamp_ms
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, insert,
		r.RoundNumber,
		r.Wallet,
		r.BuyCount,
		r.Reward.String(),
		r.Signature,
		r.Error,
		r.Success,
		r.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert round result: %w", err)
	}

	trim := `
		DELETE FROM round_results
		WHERE round_number < (
			SELECT min(round_number) FROM (
				SELECT round_number FROM round_results ORDER BY round_number DESC LIMIT $1
			) AS newest
		)
	`
	if _, err = tx.Exec(ctx, trim, s.cap); err != nil {
		return fmt.Errorf("trim round results: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) (results []domain.RoundResult, err error) {
	defer func(start time.Time) { observe("recent_rounds", start, err) }(time.Now())

	if limit <= 0 || limit > s.cap {
		limit = s.cap
	}

	query := `
		SELECT round_number, wallet, buy_count, reward::text, signature, error, success, timestamp_ms
		FROM round_results
		ORDER BY round_number DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query round results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRoundResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round result: %w", err)
		}
		results = append(results, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate round results: %w", err)
	}
	return results, nil
}

// scanRoundResult scans a single row into RoundResult.
func scanRoundResult(row pgx.Row) (*domain.RoundResult, error) {
	var (
		r      domain.RoundResult
		reward string
	)

	err := row.Scan(
		&r.RoundNumber,
		&r.Wallet,
		&r.BuyCount,
		&reward,
		&r.Signature,
		&r.Error,
		&r.Success,
		&r.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if r.Reward, err = decimal.NewFromString(reward); err != nil {
		return nil, fmt.Errorf("parse reward: %w", err)
	}
	return &r, nil
}
