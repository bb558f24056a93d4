package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// SystemProgramID is the native System program address.
const SystemProgramID = "11111111111111111111111111111111"

// Key handling errors.
var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidSecretKey  = errors.New("invalid secret key")
	ErrPublicKeyMismatch = errors.New("public key does not match secret key")
)

// PublicKeySize and SecretKeySize are the raw byte lengths of Solana keys.
const (
	PublicKeySize = 32
	SecretKeySize = 64
)

// ParseAddress decodes a base58 account address into its 32 raw bytes.
func ParseAddress(addr string) ([]byte, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidAddress, len(raw), PublicKeySize)
	}
	return raw, nil
}

// IsOnCurve reports whether the 32 bytes decode to a valid ed25519 point.
// Program derived addresses are deliberately off-curve and cannot sign.
func IsOnCurve(point []byte) bool {
	if len(point) != PublicKeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// DerivePublicKey computes the ed25519 public key for a 32-byte seed.
func DerivePublicKey(seed []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed length %d", ErrInvalidSecretKey, len(seed))
	}
	h := sha512.Sum512(seed)
	s, err := new(edwards25519.Scalar).SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	return new(edwards25519.Point).ScalarBaseMult(s).Bytes(), nil
}

// Keypair is a decoded signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// ParseSecretKey decodes a base58 64-byte secret key (seed || public key)
// and checks that the embedded public half matches the seed.
func ParseSecretKey(secret string) (*Keypair, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecretKey)
	}
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	if len(raw) != SecretKeySize {
		return nil, fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidSecretKey, len(raw), SecretKeySize)
	}

	pub, err := DerivePublicKey(raw[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pub, raw[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: embedded public key does not match seed", ErrInvalidSecretKey)
	}

	return &Keypair{private: ed25519.PrivateKey(raw)}, nil
}

// NewKeypairFromSeed builds a keypair from a 32-byte seed.
func NewKeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed length %d", ErrInvalidSecretKey, len(seed))
	}
	return &Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey returns the raw 32-byte public key.
func (k *Keypair) PublicKey() []byte {
	return []byte(k.private.Public().(ed25519.PublicKey))
}

// Address returns the base58 public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.PublicKey())
}

// SecretBase58 returns the base58 encoded 64-byte secret key.
func (k *Keypair) SecretBase58() string {
	return base58.Encode(k.private)
}

// Sign signs msg with the keypair.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// MatchesAddress reports whether addr is this keypair's public key.
func (k *Keypair) MatchesAddress(addr string) bool {
	raw, err := ParseAddress(addr)
	if err != nil {
		return false
	}
	return bytes.Equal(raw, k.PublicKey())
}
