package memory

import (
	"context"
	"sync"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// ConfigStore is an in-memory implementation of storage.ConfigStore.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg *domain.DynamicConfig
}

// Compile-time interface check.
var _ storage.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore creates a new in-memory config store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

// LoadConfig returns the stored config.
func (s *ConfigStore) LoadConfig(_ context.Context) (domain.DynamicConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg == nil {
		return domain.DynamicConfig{}, storage.ErrNotFound
	}
	return *s.cfg, nil
}

// SaveConfig replaces the stored config.
func (s *ConfigStore) SaveConfig(_ context.Context, cfg domain.DynamicConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = &cfg
	return nil
}
