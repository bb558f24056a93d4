package memory

import (
	"context"
	"sync"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// HistoryStore is an in-memory implementation of storage.HistoryStore.
type HistoryStore struct {
	mu      sync.RWMutex
	cap     int
	results []domain.RoundResult // oldest first
	rounds  map[int64]bool
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a new in-memory history store retaining at most
// capacity results. capacity <= 0 uses storage.DefaultHistoryCap.
func NewHistoryStore(capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = storage.DefaultHistoryCap
	}
	return &HistoryStore{
		cap:    capacity,
		rounds: make(map[int64]bool),
	}
}

// Append adds a round result, dropping the oldest beyond capacity.
func (s *HistoryStore) Append(_ context.Context, r *domain.RoundResult) error {
	if r == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rounds[r.RoundNumber] {
		return storage.ErrDuplicateKey
	}

	s.results = append(s.results, *r)
	s.rounds[r.RoundNumber] = true

	if over := len(s.results) - s.cap; over > 0 {
		for _, old := range s.results[:over] {
			delete(s.rounds, old.RoundNumber)
		}
		s.results = append([]domain.RoundResult(nil), s.results[over:]...)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (s *HistoryStore) Recent(_ context.Context, limit int) ([]domain.RoundResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return newestFirst(s.results, limit), nil
}

// newestFirst returns up to limit entries of oldest-first results in reverse order.
func newestFirst(results []domain.RoundResult, limit int) []domain.RoundResult {
	n := len(results)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.RoundResult, 0, n)
	for i := len(results) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, results[i])
	}
	return out
}
