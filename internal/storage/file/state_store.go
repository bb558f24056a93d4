package file

import (
	"context"
	"errors"
	"os"
	"sync"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// StateFileName is the engine state file name inside the data directory.
const StateFileName = "gamestate.json"

// StateStore persists domain.EngineState as a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// Compile-time interface check.
var _ storage.StateStore = (*StateStore)(nil)

// NewStateStore creates a state store writing to path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// LoadState reads the state file. Returns storage.ErrNotFound if it does not exist.
func (s *StateStore) LoadState(_ context.Context) (*domain.EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state domain.EngineState
	if err := readJSON(s.path, &state); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &state, nil
}

// SaveState atomically replaces the state file.
func (s *StateStore) SaveState(_ context.Context, state *domain.EngineState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSONAtomic(s.path, state, 0o644)
}
