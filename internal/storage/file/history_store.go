package file

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// HistoryFileName is the history log file name inside the data directory.
const HistoryFileName = "history.json"

// HistoryStore keeps the round history as a JSON array, oldest first,
// capped at a fixed number of entries.
type HistoryStore struct {
	mu     sync.Mutex
	path   string
	cap    int
	logger *log.Logger
	loaded bool
	cache  []domain.RoundResult
}

// Compile-time interface check.
var _ storage.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a history store writing to path. capacity <= 0 uses
// storage.DefaultHistoryCap.
func NewHistoryStore(path string, capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = storage.DefaultHistoryCap
	}
	return &HistoryStore{
		path:   path,
		cap:    capacity,
		logger: log.New(os.Stdout, "[storage] ", log.LstdFlags|log.Lshortfile),
	}
}

// load reads the file once. A missing file is an empty history. A file that
// does not parse is moved aside and the log restarts empty.
func (s *HistoryStore) load() error {
	if s.loaded {
		return nil
	}
	var results []domain.RoundResult
	err := readJSON(s.path, &results)
	switch {
	case err == nil, errors.Is(err, os.ErrNotExist):
	case isCorrupt(err):
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixMilli())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			s.logger.Printf("Corrupt history (%v), could not move it aside: %v", err, rerr)
		} else {
			s.logger.Printf("Corrupt history (%v), moved to %s", err, aside)
		}
		results = nil
	default:
		return err
	}
	s.cache = results
	s.loaded = true
	return nil
}

// Append adds r and rewrites the file, dropping the oldest entries beyond capacity.
func (s *HistoryStore) Append(_ context.Context, r *domain.RoundResult) error {
	if r == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	for _, existing := range s.cache {
		if existing.RoundNumber == r.RoundNumber {
			return storage.ErrDuplicateKey
		}
	}

	next := append(append([]domain.RoundResult(nil), s.cache...), *r)
	if over := len(next) - s.cap; over > 0 {
		next = next[over:]
	}

	if err := writeJSONAtomic(s.path, next, 0o644); err != nil {
		return err
	}
	s.cache = next
	return nil
}

// Recent returns up to limit results, newest first.
func (s *HistoryStore) Recent(_ context.Context, limit int) ([]domain.RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	n := len(s.cache)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.RoundResult, 0, n)
	for i := len(s.cache) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.cache[i])
	}
	return out, nil
}
