package domain

import "encoding/json"

// redacted replaces secret material wherever a Secret is formatted or encoded.
const redacted = "[REDACTED]"

// Secret holds treasury signing material. Formatting and JSON encoding
// never reveal the value; only the config file codec calls Reveal.
type Secret struct {
	value string
}

// NewSecret wraps s.
func NewSecret(s string) Secret {
	return Secret{value: s}
}

// Reveal returns the raw secret.
func (s Secret) Reveal() string { return s.value }

// IsSet reports whether a secret is present.
func (s Secret) IsSet() bool { return s.value != "" }

func (s Secret) String() string {
	if s.value == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// DynamicConfig is the hot-swappable runtime configuration.
// Corresponds to data/config.json (or engine_config row in PostgreSQL).
type DynamicConfig struct {
	AssetID           string // token mint address, "" = demo mode
	TreasuryPublicKey string // base58 public key of the dev wallet
	TreasurySecret    Secret // base58 64-byte secret key of the dev wallet
	UpdatedAt         int64  // Unix timestamp in milliseconds
}

// HasAsset reports whether a mint is configured.
func (c DynamicConfig) HasAsset() bool { return c.AssetID != "" }

// HasTreasury reports whether both halves of the treasury keypair are configured.
func (c DynamicConfig) HasTreasury() bool {
	return c.TreasuryPublicKey != "" && c.TreasurySecret.IsSet()
}

// IsComplete reports whether asset and treasury are both configured.
func (c DynamicConfig) IsComplete() bool { return c.HasAsset() && c.HasTreasury() }

// SanitizedConfig is the externally visible configuration view. It never
// carries the secret.
type SanitizedConfig struct {
	Token      SanitizedToken  `json:"token"`
	DevWallet  SanitizedWallet `json:"devWallet"`
	UpdatedAt  int64           `json:"updatedAt"`
	IsComplete bool            `json:"isComplete"`
}

// SanitizedToken is the token part of SanitizedConfig.
type SanitizedToken struct {
	Mint         *string `json:"mint"`
	IsConfigured bool    `json:"isConfigured"`
}

// SanitizedWallet is the dev wallet part of SanitizedConfig.
type SanitizedWallet struct {
	PublicKey    *string `json:"publicKey"`
	IsConfigured bool    `json:"isConfigured"`
}

// Sanitize builds the public view of c.
func (c DynamicConfig) Sanitize() SanitizedConfig {
	out := SanitizedConfig{
		UpdatedAt:  c.UpdatedAt,
		IsComplete: c.IsComplete(),
	}
	if c.AssetID != "" {
		mint := c.AssetID
		out.Token = SanitizedToken{Mint: &mint, IsConfigured: true}
	}
	if c.TreasuryPublicKey != "" {
		pk := c.TreasuryPublicKey
		out.DevWallet.PublicKey = &pk
	}
	out.DevWallet.IsConfigured = c.HasTreasury()
	return out
}
