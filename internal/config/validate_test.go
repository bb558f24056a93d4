package config

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buymax/internal/domain"
	"buymax/internal/solana"
)

func str(s string) *string { return &s }

func testKeypair(t *testing.T, b byte) *solana.Keypair {
	t.Helper()
	kp, err := solana.NewKeypairFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	require.NoError(t, err)
	return kp
}

func TestApply_TokenMint(t *testing.T) {
	mint := testKeypair(t, 10).Address()

	next, err := Apply(domain.DynamicConfig{}, Update{TokenMint: str(mint)})
	require.NoError(t, err)
	assert.Equal(t, mint, next.AssetID)

	cleared, err := Apply(next, Update{TokenMint: str("")})
	require.NoError(t, err)
	assert.Empty(t, cleared.AssetID)
}

func TestApply_BadAddress(t *testing.T) {
	current := domain.DynamicConfig{AssetID: "keep"}

	got, err := Apply(current, Update{TokenMint: str("bad-address")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasField(FieldTokenMint))
	assert.Contains(t, err.Error(), FieldTokenMint)
	assert.Equal(t, "keep", got.AssetID)
}

func TestApply_SecretDerivesPublicKey(t *testing.T) {
	kp := testKeypair(t, 1)

	next, err := Apply(domain.DynamicConfig{}, Update{DevWalletPrivateKey: str(kp.SecretBase58())})
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), next.TreasuryPublicKey)
	assert.Equal(t, kp.SecretBase58(), next.TreasurySecret.Reveal())
	assert.True(t, next.HasTreasury())
}

func TestApply_SecretAndMatchingPublicKey(t *testing.T) {
	kp := testKeypair(t, 1)

	next, err := Apply(domain.DynamicConfig{}, Update{
		DevWalletPrivateKey: str(kp.SecretBase58()),
		DevWalletPublicKey:  str(kp.Address()),
	})
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), next.TreasuryPublicKey)
}

func TestApply_Mismatch(t *testing.T) {
	kp := testKeypair(t, 1)
	other := testKeypair(t, 2)

	_, err := Apply(domain.DynamicConfig{}, Update{
		DevWalletPrivateKey: str(kp.SecretBase58()),
		DevWalletPublicKey:  str(other.Address()),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasField(FieldDevWalletPublicKey))
}

func TestApply_PublicKeyAlone(t *testing.T) {
	kp := testKeypair(t, 1)
	other := testKeypair(t, 2)

	stored := domain.DynamicConfig{
		TreasuryPublicKey: kp.Address(),
		TreasurySecret:    domain.NewSecret(kp.SecretBase58()),
	}

	_, err := Apply(stored, Update{DevWalletPublicKey: str(other.Address())})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasField(FieldDevWalletPublicKey))

	next, err := Apply(stored, Update{DevWalletPublicKey: str(kp.Address())})
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), next.TreasuryPublicKey)

	// Without a stored secret any valid key is accepted.
	next, err = Apply(domain.DynamicConfig{}, Update{DevWalletPublicKey: str(other.Address())})
	require.NoError(t, err)
	assert.Equal(t, other.Address(), next.TreasuryPublicKey)
	assert.False(t, next.HasTreasury())
}

func TestApply_MultipleFieldErrors(t *testing.T) {
	_, err := Apply(domain.DynamicConfig{}, Update{
		TokenMint:           str("bad-address"),
		DevWalletPublicKey:  str(""),
		DevWalletPrivateKey: str("nope"),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 3)
	assert.True(t, verr.HasField(FieldTokenMint))
	assert.True(t, verr.HasField(FieldDevWalletPublicKey))
	assert.True(t, verr.HasField(FieldDevWalletPrivateKey))
}

func TestSecret_Redacted(t *testing.T) {
	cfg := domain.DynamicConfig{TreasurySecret: domain.NewSecret("top-secret")}

	assert.NotContains(t, cfg.TreasurySecret.String(), "top-secret")
	assert.NotContains(t, fmtAll(cfg), "top-secret")

	sanitized := cfg.Sanitize()
	assert.False(t, sanitized.DevWallet.IsConfigured)
	assert.Nil(t, sanitized.Token.Mint)
}
