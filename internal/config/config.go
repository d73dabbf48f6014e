package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Profile selects the runtime posture. The simple payment verifier and the
// simulated transactor are rejected at construction time under Production.
type Profile string

const (
	Development Profile = "development"
	Production  Profile = "production"
	Testing     Profile = "testing"
)

// VerifierMode selects the payment verifier implementation.
type VerifierMode string

const (
	VerifierFull   VerifierMode = "full"
	VerifierSimple VerifierMode = "simple"
)

// Config holds all runtime settings, sourced from APISHIELD_* environment
// variables with optional .env file loading.
type Config struct {
	Profile Profile

	HTTPAddr string
	GRPCAddr string

	// Persistence. When PostgresDSN is set the pg backend is used,
	// otherwise records live in JSON files under DataDir.
	PostgresDSN string
	DataDir     string

	// Nonce ledger. RedisAddr selects the Redis backend; empty means the
	// file backend under DataDir.
	RedisAddr      string
	NonceRetention time.Duration

	// Payment verification.
	VerifierMode      VerifierMode
	AssetFamily       string // "evm" or "solana"
	BackendAddress    string // settlement recipient
	SettlementAsset   string // asset identifier (token contract / mint)
	ChainID           int64  // EIP-712 domain chain id (evm family)
	PaymentMaxAge     time.Duration
	PremiumRate       float64 // premium as a fraction of coverage
	MaxCoverage       float64 // display units
	PolicyDuration    time.Duration
	OracleTimeout     time.Duration
	SignerKeyPath     string // transactor signing key; empty selects the simulated transactor
	OperatorJWTSecret string

	// Initial transactor funding, smallest asset units.
	ReserveUnits int64
	FeeUnits     int64

	RateLimitEnabled bool
	RateBurst        int
	RatePerSecond    int

	AsyncWorkers int
}

// Load reads configuration from the environment, optionally seeded from a
// .env file (missing file is not an error).
func Load() (Config, error) {
	if env, err := godotenv.Read(".env"); err == nil {
		for k, v := range env {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	cfg := Config{
		Profile:           Profile(strings.ToLower(getEnv("APISHIELD_ENV", string(Development)))),
		HTTPAddr:          getEnv("APISHIELD_HTTP_ADDR", ":8080"),
		GRPCAddr:          getEnv("APISHIELD_GRPC_ADDR", ":9090"),
		PostgresDSN:       getEnv("APISHIELD_PG_DSN", ""),
		DataDir:           getEnv("APISHIELD_DATA_DIR", "data"),
		RedisAddr:         getEnv("APISHIELD_REDIS_ADDR", ""),
		VerifierMode:      VerifierMode(strings.ToLower(getEnv("APISHIELD_VERIFIER_MODE", string(VerifierFull)))),
		AssetFamily:       strings.ToLower(getEnv("APISHIELD_ASSET_FAMILY", "evm")),
		BackendAddress:    getEnv("APISHIELD_BACKEND_ADDRESS", ""),
		SettlementAsset:   getEnv("APISHIELD_SETTLEMENT_ASSET", ""),
		SignerKeyPath:     getEnv("APISHIELD_SIGNER_KEY_PATH", ""),
		OperatorJWTSecret: getEnv("APISHIELD_OPERATOR_SECRET", ""),
	}

	var err error
	if cfg.ChainID, err = getInt64("APISHIELD_CHAIN_ID", 8453); err != nil {
		return Config{}, err
	}
	maxAgeSec, err := getInt("APISHIELD_PAYMENT_MAX_AGE_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	cfg.PaymentMaxAge = time.Duration(maxAgeSec) * time.Second

	retentionSec, err := getInt("APISHIELD_NONCE_RETENTION_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}
	cfg.NonceRetention = time.Duration(retentionSec) * time.Second
	// Retention below the acceptance window would let a delayed replay
	// land after GC while the original timestamp is still fresh. Clamp up.
	if cfg.NonceRetention < cfg.PaymentMaxAge {
		cfg.NonceRetention = cfg.PaymentMaxAge
	}

	if cfg.PremiumRate, err = getFloat("APISHIELD_PREMIUM_RATE", 0.01); err != nil {
		return Config{}, err
	}
	if cfg.MaxCoverage, err = getFloat("APISHIELD_MAX_COVERAGE", 100); err != nil {
		return Config{}, err
	}
	durationHours, err := getInt("APISHIELD_POLICY_DURATION_HOURS", 24)
	if err != nil {
		return Config{}, err
	}
	cfg.PolicyDuration = time.Duration(durationHours) * time.Hour

	oracleTimeoutSec, err := getInt("APISHIELD_ORACLE_TIMEOUT_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.OracleTimeout = time.Duration(oracleTimeoutSec) * time.Second

	if cfg.ReserveUnits, err = getInt64("APISHIELD_RESERVE_UNITS", 1_000_000_000); err != nil {
		return Config{}, err
	}
	if cfg.FeeUnits, err = getInt64("APISHIELD_FEE_UNITS", 10_000); err != nil {
		return Config{}, err
	}

	cfg.RateLimitEnabled = getBool("APISHIELD_RATE_LIMIT_ENABLED", true)
	if cfg.RateBurst, err = getInt("APISHIELD_RATE_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSecond, err = getInt("APISHIELD_RATE_PER_SECOND", 10); err != nil {
		return Config{}, err
	}
	if cfg.AsyncWorkers, err = getInt("APISHIELD_ASYNC_WORKERS", 4); err != nil {
		return Config{}, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Profile {
	case Development, Production, Testing:
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	switch c.VerifierMode {
	case VerifierFull, VerifierSimple:
	default:
		return fmt.Errorf("unknown verifier mode %q", c.VerifierMode)
	}
	if c.AssetFamily != "evm" && c.AssetFamily != "solana" {
		return fmt.Errorf("unknown asset family %q", c.AssetFamily)
	}
	if c.Profile == Production {
		if c.VerifierMode != VerifierFull {
			return fmt.Errorf("verifier mode %q is not allowed in production", c.VerifierMode)
		}
		if c.BackendAddress == "" {
			return fmt.Errorf("APISHIELD_BACKEND_ADDRESS must be set in production")
		}
		if c.SettlementAsset == "" {
			return fmt.Errorf("APISHIELD_SETTLEMENT_ASSET must be set in production")
		}
		if c.SignerKeyPath == "" {
			return fmt.Errorf("APISHIELD_SIGNER_KEY_PATH must be set in production")
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}
