package file

import (
	"context"
	"errors"
	"os"

	"buymax/internal/domain"
	"buymax/internal/storage"
)

// ConfigFileName is the config record file name inside the data directory.
const ConfigFileName = "config.json"

// ConfigStore persists domain.DynamicConfig as a JSON file.
// The file holds the treasury secret and is written with 0600 permissions.
type ConfigStore struct {
	path string
}

// Compile-time interface check.
var _ storage.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore creates a config store writing to path.
func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path}
}

// Path returns the file location.
func (s *ConfigStore) Path() string { return s.path }

// configFile is the on-disk layout.
type configFile struct {
	Token struct {
		Mint string `json:"mint,omitempty"`
	} `json:"token"`
	DevWallet struct {
		PrivateKey string `json:"privateKey,omitempty"`
		PublicKey  string `json:"publicKey,omitempty"`
	} `json:"devWallet"`
	UpdatedAt int64 `json:"updatedAt"`
}

// LoadConfig reads the config file. Returns storage.ErrNotFound if it does not exist.
func (s *ConfigStore) LoadConfig(_ context.Context) (domain.DynamicConfig, error) {
	var f configFile
	if err := readJSON(s.path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DynamicConfig{}, storage.ErrNotFound
		}
		return domain.DynamicConfig{}, err
	}

	return domain.DynamicConfig{
		AssetID:           f.Token.Mint,
		TreasuryPublicKey: f.DevWallet.PublicKey,
		TreasurySecret:    domain.NewSecret(f.DevWallet.PrivateKey),
		UpdatedAt:         f.UpdatedAt,
	}, nil
}

// SaveConfig atomically replaces the config file.
func (s *ConfigStore) SaveConfig(_ context.Context, cfg domain.DynamicConfig) error {
	var f configFile
	f.Token.Mint = cfg.AssetID
	f.DevWallet.PrivateKey = cfg.TreasurySecret.Reveal()
	f.DevWallet.PublicKey = cfg.TreasuryPublicKey
	f.UpdatedAt = cfg.UpdatedAt

	return writeJSONAtomic(s.path, &f, 0o600)
}
