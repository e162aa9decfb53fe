// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for the database and backup staging, always absolute
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool

	SchedulerHeartbeat     time.Duration
	ProcessorIdlePoll      time.Duration
	ProcessorShutdownGrace time.Duration
	MarketStatusTTL        time.Duration
	BrokerGatewayURL       string

	R2 R2Config
}

// R2Config holds Cloudflare R2 backup settings
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetentionDays   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SENTINEL_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		Port:      getEnvAsInt("HTTP_PORT", 8001),
		DevMode:   getEnvAsBool("DEV_MODE", false),

		SchedulerHeartbeat:     getEnvAsDuration("SCHEDULER_HEARTBEAT", 2*time.Second),
		ProcessorIdlePoll:      getEnvAsDuration("PROCESSOR_IDLE_POLL", 500*time.Millisecond),
		ProcessorShutdownGrace: getEnvAsDuration("PROCESSOR_SHUTDOWN_GRACE", 30*time.Second),
		MarketStatusTTL:        getEnvAsDuration("MARKET_STATUS_TTL", 5*time.Minute),
		BrokerGatewayURL:       getEnv("BROKER_GATEWAY_URL", "http://localhost:9010"),

		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("R2_BUCKET", ""),
			RetentionDays:   getEnvAsInt("R2_BACKUP_RETENTION_DAYS", 30),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.Port)
	}

	durations := map[string]time.Duration{
		"SCHEDULER_HEARTBEAT":      c.SchedulerHeartbeat,
		"PROCESSOR_IDLE_POLL":      c.ProcessorIdlePoll,
		"PROCESSOR_SHUTDOWN_GRACE": c.ProcessorShutdownGrace,
		"MARKET_STATUS_TTL":        c.MarketStatusTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.BrokerGatewayURL == "" {
		return fmt.Errorf("BROKER_GATEWAY_URL is required")
	}

	// Note: R2 credentials optional, backups are skipped without them
	if c.R2Enabled() && c.R2.RetentionDays < 0 {
		return fmt.Errorf("invalid R2_BACKUP_RETENTION_DAYS %d", c.R2.RetentionDays)
	}

	return nil
}

// R2Enabled returns true if every R2 setting is present
func (c *Config) R2Enabled() bool {
	return c.R2.AccountID != "" &&
		c.R2.AccessKeyID != "" &&
		c.R2.SecretAccessKey != "" &&
		c.R2.Bucket != ""
}

// DatabasePath returns the path of the jobs database inside DataDir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sentinel.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
