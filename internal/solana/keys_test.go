package solana

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func testSeed(b byte) []byte {
	return bytes.Repeat([]byte{b}, ed25519.SeedSize)
}

func TestDerivePublicKey_MatchesEd25519(t *testing.T) {
	seed := testSeed(9)

	got, err := DerivePublicKey(seed)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}

	want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	if !bytes.Equal(got, want) {
		t.Errorf("derived key %x, want %x", got, want)
	}

	if !IsOnCurve(got) {
		t.Error("derived public key should be on curve")
	}
}

func TestParseSecretKey_RoundTrip(t *testing.T) {
	kp, err := NewKeypairFromSeed(testSeed(1))
	if err != nil {
		t.Fatalf("NewKeypairFromSeed: %v", err)
	}

	parsed, err := ParseSecretKey(kp.SecretBase58())
	if err != nil {
		t.Fatalf("ParseSecretKey: %v", err)
	}

	if parsed.Address() != kp.Address() {
		t.Errorf("expected address %s, got %s", kp.Address(), parsed.Address())
	}
	if !parsed.MatchesAddress(kp.Address()) {
		t.Error("expected MatchesAddress to be true")
	}
}

func TestParseSecretKey_Invalid(t *testing.T) {
	kp, _ := NewKeypairFromSeed(testSeed(2))
	other, _ := NewKeypairFromSeed(testSeed(3))

	// seed from kp, public half from other
	mixed := append(append([]byte{}, testSeed(2)...), other.PublicKey()...)

	tests := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"not base58", "not-base58-0OIl"},
		{"too short", base58.Encode(testSeed(2))},
		{"mismatched halves", base58.Encode(mixed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSecretKey(tt.secret)
			if !errors.Is(err, ErrInvalidSecretKey) {
				t.Errorf("expected ErrInvalidSecretKey, got %v", err)
			}
		})
	}

	if kp.MatchesAddress(other.Address()) {
		t.Error("different keypairs should not match")
	}
}

func TestParseAddress(t *testing.T) {
	kp, _ := NewKeypairFromSeed(testSeed(4))

	raw, err := ParseAddress(kp.Address())
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if len(raw) != PublicKeySize {
		t.Errorf("expected %d bytes, got %d", PublicKeySize, len(raw))
	}

	for _, bad := range []string{"", "bad-address", "abc", base58.Encode(make([]byte, 33))} {
		if _, err := ParseAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParseAddress(%q): expected ErrInvalidAddress, got %v", bad, err)
		}
	}

	if raw, err := ParseAddress(SystemProgramID); err != nil || !bytes.Equal(raw, make([]byte, 32)) {
		t.Errorf("system program should decode to 32 zero bytes, got %x, %v", raw, err)
	}
}

func TestIsOnCurve_WrongLength(t *testing.T) {
	if IsOnCurve(make([]byte, 31)) {
		t.Error("31 bytes cannot be a point")
	}
}
