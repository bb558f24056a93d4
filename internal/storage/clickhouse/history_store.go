package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// HistoryStore implements storage.HistoryStore using ClickHouse.
// MergeTree does not enforce uniqueness, so Append checks for an existing
// round first and trims rows beyond the cap after every insert.
type HistoryStore struct {
	conn *Conn
	cap  int
}

// NewHistoryStore creates a new HistoryStore retaining at most capacity rounds.
func NewHistoryStore(conn *Conn, capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = storage.DefaultHistoryCap
	}
	return &HistoryStore{conn: conn, cap: capacity}
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// Append adds a round result. Returns ErrDuplicateKey if the round exists.
func (s *HistoryStore) Append(ctx context.Context, r *domain.RoundResult) (err error) {
	if r == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("append_round", start, err) }(time.Now())

	exists, err := s.exists(ctx, r.RoundNumber)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO round_results (
			round_number, wallet, buy_count, reward, signature, error, success, timestamp_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = s.conn.Exec(ctx, query,
		r.RoundNumber,
		r.Wallet,
		uint32(r.BuyCount),
		r.Reward,
		r.Signature,
		r.Error,
		r.Success,
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert round result: %w", err)
	}

	if err := s.trim(ctx); err != nil {
		return fmt.Errorf("trim history: %w", err)
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
		SELECT round_number, wallet, buy_count, reward, signature, error, success, timestamp_ms
		FROM round_results FINAL
		ORDER BY round_number DESC
		LIMIT ?
	`
	rows, err := s.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query round results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r        domain.RoundResult
			buyCount uint32
			reward   decimal.Decimal
		)
		if err := rows.Scan(
			&r.RoundNumber,
			&r.Wallet,
			&buyCount,
			&reward,
			&r.Signature,
			&r.Error,
			&r.Success,
			&r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan round result: %w", err)
		}
		r.BuyCount = int(buyCount)
		r.Reward = reward
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate round results: %w", err)
	}
	return results, nil
}

func (s *HistoryStore) exists(ctx context.Context, roundNumber int64) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM round_results WHERE round_number = ?`,
		roundNumber,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// trim deletes every round older than the newest cap rounds.
func (s *HistoryStore) trim(ctx context.Context) error {
	var threshold int64
	err := s.conn.QueryRow(ctx,
		`SELECT round_number FROM round_results ORDER BY round_number DESC LIMIT 1 OFFSET ?`,
		s.cap,
	).Scan(&threshold)
	if err != nil {
		// Fewer than cap+1 rows.
		if isNoRows(err) {
			return nil
		}
		return err
	}
	return s.conn.Exec(ctx, `DELETE FROM round_results WHERE round_number <= ?`, threshold)
}
