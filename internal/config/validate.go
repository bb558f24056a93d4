package config

import (
	"errors"
	"fmt"
	"strings"

	"buymax/internal/domain"
	"buymax/internal/solana"
)

// Field names used in validation errors and update payloads.
const (
	FieldTokenMint           = "tokenMint"
	FieldDevWalletPublicKey  = "devWalletPublicKey"
	FieldDevWalletPrivateKey = "devWalletPrivateKey"
)

// ErrInvalidConfig matches every *ValidationError via errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// Update is a partial config change. A nil field is left untouched.
// TokenMint set to "" clears the monitored asset.
type Update struct {
	TokenMint           *string `json:"tokenMint,omitempty"`
	DevWalletPublicKey  *string `json:"devWalletPublicKey,omitempty"`
	DevWalletPrivateKey *string `json:"devWalletPrivateKey,omitempty"`
}

// IsEmpty reports whether the update carries no fields.
func (u Update) IsEmpty() bool {
	return u.TokenMint == nil && u.DevWalletPublicKey == nil && u.DevWalletPrivateKey == nil
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected field of an Update.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrInvalidConfig) true for validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// HasField reports whether field was rejected.
func (e *ValidationError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Apply validates u against current and returns the merged config.
// UpdatedAt is left for the caller to set. On failure the returned error is a
// *ValidationError naming every bad field.
func Apply(current domain.DynamicConfig, u Update) (domain.DynamicConfig, error) {
	next := current
	verr := &ValidationError{}

	if u.TokenMint != nil {
		mint := strings.TrimSpace(*u.TokenMint)
		if mint == "" {
			next.AssetID = ""
		} else if _, err := solana.ParseAddress(mint); err != nil {
			verr.add(FieldTokenMint, "invalid token mint address")
		} else {
			next.AssetID = mint
		}
	}

	var pubRaw []byte
	if u.DevWalletPublicKey != nil {
		pub := strings.TrimSpace(*u.DevWalletPublicKey)
		raw, err := solana.ParseAddress(pub)
		switch {
		case pub == "":
			verr.add(FieldDevWalletPublicKey, "public key must not be empty")
		case err != nil:
			verr.add(FieldDevWalletPublicKey, "invalid public key")
		case !solana.IsOnCurve(raw):
			verr.add(FieldDevWalletPublicKey, "public key is not a valid signing key")
		default:
			pubRaw = raw
		}
	}

	if u.DevWalletPrivateKey != nil {
		secret := strings.TrimSpace(*u.DevWalletPrivateKey)
		if secret == "" {
			verr.add(FieldDevWalletPrivateKey, "private key must not be empty")
		} else if kp, err := solana.ParseSecretKey(secret); err != nil {
			verr.add(FieldDevWalletPrivateKey, "invalid private key")
		} else {
			switch {
			case u.DevWalletPublicKey == nil:
				// Derive the public key from the secret.
				next.TreasurySecret = domain.NewSecret(secret)
				next.TreasuryPublicKey = kp.Address()
			case pubRaw != nil && !kp.MatchesAddress(strings.TrimSpace(*u.DevWalletPublicKey)):
				verr.add(FieldDevWalletPublicKey, "public key does not match private key")
			case pubRaw != nil:
				next.TreasurySecret = domain.NewSecret(secret)
				next.TreasuryPublicKey = kp.Address()
			}
		}
	} else if pubRaw != nil {
		pub := strings.TrimSpace(*u.DevWalletPublicKey)
		if current.TreasurySecret.IsSet() {
			kp, err := solana.ParseSecretKey(current.TreasurySecret.Reveal())
			if err != nil || !kp.MatchesAddress(pub) {
				verr.add(FieldDevWalletPublicKey, "public key does not match stored private key")
			} else {
				next.TreasuryPublicKey = pub
			}
		} else {
			next.TreasuryPublicKey = pub
		}
	}

	if len(verr.Fields) > 0 {
		return current, verr
	}
	return next, nil
}
