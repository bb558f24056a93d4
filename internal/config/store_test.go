package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buymax/internal/domain"
	"buymax/internal/storage"
	"buymax/internal/storage/file"
	"buymax/internal/storage/memory"
)

// fmtAll renders v every way a log line might.
func fmtAll(v interface{}) string {
	j, _ := json.Marshal(v)
	return fmt.Sprintf("%v %+v %#v %s", v, v, v, j)
}

// countingBackend wraps a ConfigStore and counts saves.
type countingBackend struct {
	storage.ConfigStore
	mu    sync.Mutex
	saves int
	err   error
}

func (b *countingBackend) SaveConfig(ctx context.Context, cfg domain.DynamicConfig) error {
	b.mu.Lock()
	b.saves++
	err := b.err
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.ConfigStore.SaveConfig(ctx, cfg)
}

func (b *countingBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestStore(backend storage.ConfigStore, opts ...Option) *Store {
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return time.UnixMilli(1704067200000) }),
	}, opts...)
	return NewStore(backend, opts...)
}

func TestStore_LoadSeedsFromSettings(t *testing.T) {
	ctx := context.Background()
	kp := testKeypair(t, 1)
	mint := testKeypair(t, 9).Address()

	backend := &countingBackend{ConfigStore: memory.NewConfigStore()}
	store := newTestStore(backend, WithSeed(Seed{
		TokenMint:           mint,
		DevWalletPrivateKey: kp.SecretBase58(),
	}))

	cfg := store.Load(ctx)
	assert.Equal(t, mint, cfg.AssetID)
	assert.Equal(t, kp.Address(), cfg.TreasuryPublicKey)
	assert.True(t, cfg.IsComplete())
	assert.Equal(t, 1, backend.Saves())

	persisted, err := backend.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, mint, persisted.AssetID)
}

func TestStore_LoadEmptySeedDoesNotPersist(t *testing.T) {
	backend := &countingBackend{ConfigStore: memory.NewConfigStore()}
	store := newTestStore(backend)

	cfg := store.Load(context.Background())
	assert.False(t, cfg.HasAsset())
	assert.Equal(t, 0, backend.Saves())
}

func TestStore_LoadCorruptFileFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), file.ConfigFileName)
	require.NoError(t, writeString(path, "{broken"))

	store := newTestStore(file.NewConfigStore(path), WithSeed(Seed{TokenMint: testKeypair(t, 9).Address()}))
	cfg := store.Load(context.Background())
	assert.Equal(t, domain.DynamicConfig{}, cfg)
}

func TestStore_UpdateRejectsBadAddress(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{ConfigStore: memory.NewConfigStore()}
	store := newTestStore(backend)
	store.Load(ctx)

	var calls int
	store.Subscribe(func(context.Context, domain.DynamicConfig) error {
		calls++
		return nil
	})

	_, err := store.Update(ctx, Update{TokenMint: str("bad-address")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasField(FieldTokenMint))

	assert.Equal(t, 0, backend.Saves(), "nothing must be written")
	assert.Equal(t, 0, calls, "listeners must not run")
}

func TestStore_UpdateNotifiesInOrderAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(memory.NewConfigStore())
	store.Load(ctx)

	var order []string
	store.Subscribe(func(context.Context, domain.DynamicConfig) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	store.Subscribe(func(context.Context, domain.DynamicConfig) error {
		order = append(order, "second")
		panic("listener panic")
	})
	store.Subscribe(func(_ context.Context, cfg domain.DynamicConfig) error {
		order = append(order, "third:"+cfg.AssetID)
		return nil
	})

	mint := testKeypair(t, 9).Address()
	cfg, err := store.Update(ctx, Update{TokenMint: str(mint)})
	require.NoError(t, err)
	assert.Equal(t, mint, cfg.AssetID)
	assert.Equal(t, int64(1704067200000), cfg.UpdatedAt)
	assert.Equal(t, []string{"first", "second", "third:" + mint}, order)
	assert.Equal(t, mint, store.Current().AssetID)
}

func TestStore_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(memory.NewConfigStore())
	store.Load(ctx)

	var calls int
	unsubscribe := store.Subscribe(func(context.Context, domain.DynamicConfig) error {
		calls++
		return nil
	})
	unsubscribe()

	_, err := store.Update(ctx, Update{TokenMint: str(testKeypair(t, 9).Address())})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{ConfigStore: memory.NewConfigStore(), err: errors.New("disk full")}
	store := newTestStore(backend)
	store.Load(ctx)

	mint := testKeypair(t, 9).Address()
	cfg, err := store.Update(ctx, Update{TokenMint: str(mint)})
	require.NoError(t, err)
	assert.Equal(t, mint, cfg.AssetID)
	assert.Equal(t, mint, store.Current().AssetID)
	assert.Equal(t, 1, backend.Saves())
}

func TestStore_SanitizedHidesSecret(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(memory.NewConfigStore())
	store.Load(ctx)

	kp := testKeypair(t, 1)
	_, err := store.Update(ctx, Update{DevWalletPrivateKey: str(kp.SecretBase58())})
	require.NoError(t, err)

	s := store.Sanitized()
	require.NotNil(t, s.DevWallet.PublicKey)
	assert.Equal(t, kp.Address(), *s.DevWallet.PublicKey)
	assert.True(t, s.DevWallet.IsConfigured)
	assert.False(t, s.IsComplete)
	assert.NotContains(t, fmtAll(s), kp.SecretBase58())
	assert.NotContains(t, fmtAll(store.Current()), kp.SecretBase58())
}

func TestStore_ValidateDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(memory.NewConfigStore())
	store.Load(ctx)

	require.NoError(t, store.Validate(Update{TokenMint: str(testKeypair(t, 9).Address())}))
	assert.False(t, store.Current().HasAsset())

	require.Error(t, store.Validate(Update{}))
}
