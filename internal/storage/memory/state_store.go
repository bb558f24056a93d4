package memory

import (
	"context"
	"sync"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// StateStore is an in-memory implementation of storage.StateStore.
type StateStore struct {
	mu    sync.RWMutex
	state *domain.EngineState
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// NewStateStore creates a new in-memory engine state store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// LoadState returns a copy of the stored state.
func (s *StateStore) LoadState(_ context.Context) (*domain.EngineState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, storage.ErrNotFound
	}
	return s.state.Clone(), nil
}

// SaveState stores a copy of state.
func (s *StateStore) SaveState(_ context.Context, state *domain.EngineState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state.Clone()
	return nil
}
