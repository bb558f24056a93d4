package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"buymax/internal/domain"
	"buymax/internal/observability"
	"buymax/internal/storage"
)

// Listener is notified after every successful update with the new snapshot.
// Errors and panics are logged and do not affect other listeners.
type Listener func(ctx context.Context, cfg domain.DynamicConfig) error

// Seed holds the process-level values used when no config has been stored yet.
type Seed struct {
	TokenMint           string
	DevWalletPublicKey  string
	DevWalletPrivateKey string
}

// SeedFromSettings extracts the seed values from s.
func SeedFromSettings(s Settings) Seed {
	return Seed{
		TokenMint:           s.TokenMint,
		DevWalletPublicKey:  s.DevWalletPublicKey,
		DevWalletPrivateKey: s.DevWalletPrivateKey,
	}
}

type listenerEntry struct {
	id int
	fn Listener
}

// Store is the single owner of the dynamic configuration. Reads are served
// from an in-memory snapshot; updates are validated, persisted and then
// announced to listeners in registration order.
type Store struct {
	backend storage.ConfigStore
	seed    Seed
	logger  *log.Logger
	now     func() time.Time

	// updateMu serializes Update end to end, including listener notification.
	updateMu sync.Mutex

	mu      sync.RWMutex
	current domain.DynamicConfig

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      int
}

// Option configures Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithSeed sets the values used when the backend holds no config.
func WithSeed(seed Seed) Option {
	return func(s *Store) {
		s.seed = seed
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a config store over backend.
func NewStore(backend storage.ConfigStore, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  log.New(os.Stdout, "[config] ", log.LstdFlags|log.Lshortfile),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored config, seeding it when nothing is stored yet.
// It never fails: read or parse errors yield an empty config and are logged.
func (s *Store) Load(ctx context.Context) domain.DynamicConfig {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	cfg, err := s.backend.LoadConfig(ctx)
	switch {
	case err == nil:
		s.logger.Printf("Loaded configuration (asset=%q, treasury=%q)", cfg.AssetID, cfg.TreasuryPublicKey)
	case errors.Is(err, storage.ErrNotFound):
		cfg = s.seeded()
		if cfg.AssetID != "" || cfg.TreasuryPublicKey != "" {
			if err := s.backend.SaveConfig(ctx, cfg); err != nil {
				observability.RecordPersistError("config")
				s.logger.Printf("Failed to persist seeded config: %v", err)
			}
		}
	default:
		s.logger.Printf("Failed to load config, starting empty: %v", err)
		cfg = domain.DynamicConfig{}
	}

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()

	return cfg
}

// seeded builds the initial config from the seed values. Invalid seed values
// are logged and left out.
func (s *Store) seeded() domain.DynamicConfig {
	cfg := domain.DynamicConfig{UpdatedAt: s.now().UnixMilli()}

	if s.seed.TokenMint != "" {
		mint := s.seed.TokenMint
		next, err := Apply(cfg, Update{TokenMint: &mint})
		if err != nil {
			s.logger.Printf("Ignoring TOKEN_MINT: %v", err)
		} else {
			cfg = next
		}
	}

	var u Update
	if s.seed.DevWalletPrivateKey != "" {
		secret := s.seed.DevWalletPrivateKey
		u.DevWalletPrivateKey = &secret
	}
	if s.seed.DevWalletPublicKey != "" {
		pub := s.seed.DevWalletPublicKey
		u.DevWalletPublicKey = &pub
	}
	if !u.IsEmpty() {
		next, err := Apply(cfg, u)
		if err != nil {
			s.logger.Printf("Ignoring dev wallet seed: %v", err)
		} else {
			cfg = next
		}
	}

	return cfg
}

// Current returns the latest snapshot. No I/O.
func (s *Store) Current() domain.DynamicConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Sanitized returns the externally visible view of the current config.
func (s *Store) Sanitized() domain.SanitizedConfig {
	return s.Current().Sanitize()
}

// Validate checks u against the current snapshot without mutating anything.
func (s *Store) Validate(u Update) error {
	if u.IsEmpty() {
		return &ValidationError{Fields: []FieldError{{Field: "config", Message: "no fields to update"}}}
	}
	_, err := Apply(s.Current(), u)
	return err
}

// Update validates and merges u, persists the result and notifies listeners.
// A persistence failure is logged; the new snapshot stays authoritative in memory.
func (s *Store) Update(ctx context.Context, u Update) (domain.DynamicConfig, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if u.IsEmpty() {
		observability.RecordConfigUpdate("rejected")
		return s.Current(), &ValidationError{Fields: []FieldError{{Field: "config", Message: "no fields to update"}}}
	}

	next, err := Apply(s.Current(), u)
	if err != nil {
		observability.RecordConfigUpdate("rejected")
		return s.Current(), err
	}
	next.UpdatedAt = s.now().UnixMilli()

	if err := s.backend.SaveConfig(ctx, next); err != nil {
		observability.RecordPersistError("config")
		s.logger.Printf("Failed to persist config, keeping it in memory: %v", err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	observability.RecordConfigUpdate("applied")
	s.logger.Printf("Configuration updated (asset=%q, treasury=%q)", next.AssetID, next.TreasuryPublicKey)

	s.notify(ctx, next)
	return next, nil
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// notify runs listeners in registration order.
func (s *Store) notify(ctx context.Context, cfg domain.DynamicConfig) {
	s.listenersMu.Lock()
	entries := append([]listenerEntry(nil), s.listeners...)
	s.listenersMu.Unlock()

	for _, e := range entries {
		if err := s.callListener(ctx, e.fn, cfg); err != nil {
			observability.RecordListenerError()
			s.logger.Printf("Config listener %d failed: %v", e.id, err)
		}
	}
}

func (s *Store) callListener(ctx context.Context, fn Listener, cfg domain.DynamicConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, cfg)
}
