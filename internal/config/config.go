// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis URL for the probe cache (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL       string
	ChainID      int64
	DefaultChain string
	PrivateKey   string // Hex-encoded signing key for revoke execution, no 0x prefix

	// Probe sources
	ReputationAPIURL string
	HoneypotAPIURL   string
	ProbeTimeout     time.Duration
	ProbeRetryBase   time.Duration

	// Remediation
	RevokeTTL        time.Duration // Pending operations expire after this
	RevokeKeyWindow  time.Duration // coarse time bucket for idempotency keys
	ConfirmationWait time.Duration

	// Rate limiting
	RateLimitRPM     int // per-client request ceiling
	ScanLimitPerHour int // per-wallet-address scan ceiling

	// Scoring
	ScoringTablePath string // optional YAML override for the versioned scoring table

	// Alerts
	AlertWebhookURL string // notification collaborator endpoint (optional)

	// Tracing
	OTLPEndpoint string
}

// Defaults target Ethereum mainnet via a public RPC.
const (
	DefaultRPCURL       = "https://eth.llamarpc.com"
	DefaultChainID      = 1
	DefaultChainName    = "ethereum"
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultRateLimitRPM = 60
	DefaultScanLimit    = 12 // scans per wallet per hour
)

// Default durations for probes and remediation.
const (
	DefaultProbeTimeout     = 8 * time.Second
	DefaultProbeRetryBase   = 500 * time.Millisecond
	DefaultRevokeTTL        = 10 * time.Minute
	DefaultRevokeKeyWindow  = 5 * time.Minute
	DefaultConfirmationWait = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:         os.Getenv("REDIS_URL"),    // Optional, uses in-memory cache if not set
		RPCURL:           getEnv("RPC_URL", DefaultRPCURL),
		ChainID:          getEnvInt64("CHAIN_ID", DefaultChainID),
		DefaultChain:     getEnv("DEFAULT_CHAIN", DefaultChainName),
		PrivateKey:       os.Getenv("PRIVATE_KEY"), // Optional, revoke execution disabled if not set
		ReputationAPIURL: os.Getenv("REPUTATION_API_URL"),
		HoneypotAPIURL:   os.Getenv("HONEYPOT_API_URL"),
		ProbeTimeout:     getEnvDuration("PROBE_TIMEOUT", DefaultProbeTimeout),
		ProbeRetryBase:   getEnvDuration("PROBE_RETRY_BASE", DefaultProbeRetryBase),
		RevokeTTL:        getEnvDuration("REVOKE_TTL", DefaultRevokeTTL),
		RevokeKeyWindow:  getEnvDuration("REVOKE_KEY_WINDOW", DefaultRevokeKeyWindow),
		ConfirmationWait: getEnvDuration("CONFIRMATION_WAIT", DefaultConfirmationWait),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		ScanLimitPerHour: int(getEnvInt64("SCAN_LIMIT_PER_HOUR", DefaultScanLimit)),
		ScoringTablePath: os.Getenv("SCORING_TABLE_PATH"),
		AlertWebhookURL:  os.Getenv("ALERT_WEBHOOK_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	// PRIVATE_KEY is optional (scan-only deployments), but must be well-formed
	// when present since it signs revoke transactions.
	if c.PrivateKey != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}
	if c.RevokeKeyWindow <= 0 {
		return fmt.Errorf("REVOKE_KEY_WINDOW must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
