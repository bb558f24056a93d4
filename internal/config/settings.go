package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage backends selectable with -storage.
const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Settings holds process-level configuration. Values come from flags whose
// defaults are read from the environment (optionally seeded from a .env file).
type Settings struct {
	RPCURL string
	WSURL  string

	// Seed values for the dynamic config when no config file exists yet.
	TokenMint           string
	DevWalletPrivateKey string
	DevWalletPublicKey  string

	RoundDuration    time.Duration
	RewardPercentage decimal.Decimal
	MinReward        decimal.Decimal

	Port        int
	FrontendURL string
	DataDir     string

	Storage       string
	PostgresDSN   string
	ClickhouseDSN string

	RedisAddr   string
	RedisPrefix string

	KafkaBrokers []string
	KafkaTopic   string
}

// Default returns the built-in defaults.
func Default() Settings {
	return Settings{
		RPCURL:           "https://api.mainnet-beta.solana.com",
		WSURL:            "wss://api.mainnet-beta.solana.com",
		RoundDuration:    15 * time.Minute,
		RewardPercentage: decimal.NewFromInt(5),
		MinReward:        decimal.RequireFromString("0.001"),
		Port:             4000,
		FrontendURL:      "http://localhost:5173",
		DataDir:          "data",
		Storage:          StorageFile,
		RedisPrefix:      "buymax",
		KafkaTopic:       "buymax.events",
	}
}

// LoadEnvFile loads variables from path without overriding the existing
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load parses args into Settings. Every flag defaults to its environment
// variable, falling back to Default.
func Load(name string, args []string) (Settings, error) {
	def := Default()
	s := def

	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&s.RPCURL, "rpc-url", envOr("SOLANA_RPC_URL", def.RPCURL), "Solana RPC HTTP endpoint")
	fs.StringVar(&s.WSURL, "ws-url", envOr("SOLANA_WS_URL", def.WSURL), "Solana WebSocket endpoint")
	fs.StringVar(&s.TokenMint, "token-mint", os.Getenv("TOKEN_MINT"), "Token mint to monitor (seed value)")
	fs.StringVar(&s.DevWalletPrivateKey, "dev-wallet-private-key", os.Getenv("DEV_WALLET_PRIVATE_KEY"), "Treasury secret key, base58 (seed value)")
	fs.StringVar(&s.DevWalletPublicKey, "dev-wallet-public-key", os.Getenv("DEV_WALLET_PUBLIC_KEY"), "Treasury public key (seed value)")

	roundMs := fs.Int64("round-duration-ms", 0, "Round duration in milliseconds (env ROUND_DURATION_MS, default 900000)")
	rewardPct := fs.String("reward-percentage", os.Getenv("REWARD_PERCENTAGE"), "Percent of treasury balance paid per round (default 5)")
	minReward := fs.String("min-reward-sol", os.Getenv("MIN_REWARD_SOL"), "Minimum reward in SOL (default 0.001)")
	port := fs.Int("port", 0, "HTTP port (env PORT, default 4000)")

	fs.StringVar(&s.FrontendURL, "frontend-url", envOr("FRONTEND_URL", def.FrontendURL), "Allowed dashboard origin")
	fs.StringVar(&s.DataDir, "data-dir", envOr("DATA_DIR", def.DataDir), "Directory for config and state files")
	fs.StringVar(&s.Storage, "storage", envOr("STORAGE", def.Storage), "State storage backend: file, memory or postgres")
	fs.StringVar(&s.PostgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	fs.StringVar(&s.ClickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the history log")
	fs.StringVar(&s.RedisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for event publishing")
	fs.StringVar(&s.RedisPrefix, "redis-prefix", envOr("REDIS_PREFIX", def.RedisPrefix), "Redis channel prefix")
	kafkaBrokers := fs.String("kafka-brokers", os.Getenv("KAFKA_BROKERS"), "Comma-separated Kafka brokers for event publishing")
	fs.StringVar(&s.KafkaTopic, "kafka-topic", envOr("KAFKA_TOPIC", def.KafkaTopic), "Kafka topic for events")

	if err := fs.Parse(args); err != nil {
		return Settings{}, err
	}

	var err error
	if s.RoundDuration, err = durationMs(*roundMs, "ROUND_DURATION_MS", def.RoundDuration); err != nil {
		return Settings{}, err
	}
	if s.RewardPercentage, err = decimalOr(*rewardPct, "reward-percentage", def.RewardPercentage); err != nil {
		return Settings{}, err
	}
	if s.MinReward, err = decimalOr(*minReward, "min-reward-sol", def.MinReward); err != nil {
		return Settings{}, err
	}
	if s.Port, err = intOr(*port, "PORT", def.Port); err != nil {
		return Settings{}, err
	}
	s.KafkaBrokers = splitList(*kafkaBrokers)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks internal consistency of the settings.
func (s Settings) Validate() error {
	if s.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if s.WSURL == "" {
		return fmt.Errorf("ws url is required")
	}
	if s.RoundDuration <= 0 {
		return fmt.Errorf("round duration must be positive, got %v", s.RoundDuration)
	}
	if s.RewardPercentage.IsNegative() || s.RewardPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("reward percentage must be within 0..100, got %s", s.RewardPercentage)
	}
	if s.MinReward.IsNegative() {
		return fmt.Errorf("min reward must not be negative, got %s", s.MinReward)
	}
	switch s.Storage {
	case StorageFile, StorageMemory:
	case StoragePostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("--postgres-dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", s.Storage)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationMs(flagVal int64, env string, def time.Duration) (time.Duration, error) {
	if flagVal > 0 {
		return time.Duration(flagVal) * time.Millisecond, nil
	}
	raw := os.Getenv(env)
	if raw == "" {
		return def, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", env, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intOr(flagVal int, env string, def int) (int, error) {
	if flagVal > 0 {
		return flagVal, nil
	}
	raw := os.Getenv(env)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", env, err)
	}
	return v, nil
}

func decimalOr(raw, name string, def decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", name, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
