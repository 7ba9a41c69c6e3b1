package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the keeper (spec §6 "Environment").
type Config struct {
	// Chain / adapters
	ChainEndpointURL string
	ExecutorSignKey  string
	AdapterDCA       string
	AdapterStopLoss  string
	AdapterRebalance string
	AdapterSub       string
	OracleAddress    string
	IndexerEndpoint  string // optional

	// ExecutionEnabled == false means dry-run every tick (spec §6).
	ExecutionEnabled bool

	// Database
	DBPath string

	// Intents file synced into the strategy registries at boot.
	IntentsPath string

	// HTTP control surface
	HTTPPort  string
	JWTSecret string

	// Keeper tick pacing
	TickInterval     time.Duration
	SubmitSpacing    time.Duration
	AdapterRateLimit float64 // calls/sec

	// Logging
	LogLevel string
	Env      string
}

// Load reads environment variables (optionally via .env) into Config and
// validates required keys, failing fast on a bad configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ChainEndpointURL: os.Getenv("CHAIN_ENDPOINT_URL"),
		ExecutorSignKey:  os.Getenv("EXECUTOR_SIGNING_KEY"),
		AdapterDCA:       os.Getenv("ADAPTER_DCA_ADDRESS"),
		AdapterStopLoss:  os.Getenv("ADAPTER_STOPLOSS_ADDRESS"),
		AdapterRebalance: os.Getenv("ADAPTER_REBALANCE_ADDRESS"),
		AdapterSub:       os.Getenv("ADAPTER_SUBSCRIPTION_ADDRESS"),
		OracleAddress:    os.Getenv("ORACLE_ADDRESS"),
		IndexerEndpoint:  os.Getenv("INDEXER_ENDPOINT"),
		ExecutionEnabled: getEnv("EXECUTION_ENABLED", "true") == "true",
		DBPath:           getEnv("DB_PATH", "./data/keeper.db"),
		IntentsPath:      getEnv("INTENTS_PATH", ""),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		TickInterval:     getEnvDuration("TICK_INTERVAL", 30*time.Second),
		SubmitSpacing:    getEnvDuration("SUBMIT_SPACING", 1*time.Second),
		AdapterRateLimit: getEnvFloat("ADAPTER_RATE_LIMIT", 1.0),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Env:              getEnv("ENV", "production"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ChainEndpointURL == "" {
		return fmt.Errorf("config: CHAIN_ENDPOINT_URL is required")
	}
	if c.ExecutorSignKey == "" {
		return fmt.Errorf("config: EXECUTOR_SIGNING_KEY is required")
	}
	if c.OracleAddress == "" {
		return fmt.Errorf("config: ORACLE_ADDRESS is required")
	}
	if c.ExecutionEnabled && c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required when EXECUTION_ENABLED=true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Redacted returns a copy safe to log: secrets replaced with a fixed mask.
func (c Config) Redacted() Config {
	if c.ExecutorSignKey != "" {
		c.ExecutorSignKey = "***"
	}
	if c.JWTSecret != "" {
		c.JWTSecret = "***"
	}
	return c
}
