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

// RateLimitConfig tunes the outbound provider pacing.
type RateLimitConfig struct {
	MinDelay    time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// BackupConfig holds the S3 backup settings. Disabled when Bucket is empty.
type BackupConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // custom S3-compatible endpoint, optional
	AccessKey string
	SecretKey string
	Keep      int // rotated archives to keep
}

// Config holds application configuration.
type Config struct {
	DataDir         string // Base directory for databases and report files, always absolute
	Port            int
	LogLevel        string
	Pretty          bool // human-readable log output
	ProviderBaseURL string
	BrokerBaseURL   string // empty disables broker phases
	ModelBaseURL    string // empty disables model analysis

	RefreshInterval time.Duration // snapshot freshness window
	RefreshCron     string        // cron spec for the silent background refresh, empty disables
	BackupCron      string        // cron spec for the nightly backup

	RateLimit RateLimitConfig
	Backup    BackupConfig
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("BENTRADE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		Port:            getEnvAsInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Pretty:          getEnvAsBool("LOG_PRETTY", false),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "http://localhost:8000"),
		BrokerBaseURL:   getEnv("BROKER_BASE_URL", ""),
		ModelBaseURL:    getEnv("MODEL_BASE_URL", ""),
		RefreshInterval: getEnvAsMillis("REFRESH_INTERVAL_MS", 90_000),
		RefreshCron:     getEnv("REFRESH_CRON", "@every 2m"),
		BackupCron:      getEnv("BACKUP_CRON", "0 30 2 * * *"),
		RateLimit: RateLimitConfig{
			MinDelay:    getEnvAsMillis("RATE_MIN_DELAY_MS", 750),
			MaxRetries:  getEnvAsInt("RATE_MAX_RETRIES", 3),
			BackoffBase: getEnvAsMillis("RATE_BACKOFF_BASE_MS", 2_000),
			BackoffCap:  getEnvAsMillis("RATE_BACKOFF_CAP_MS", 30_000),
		},
		Backup: BackupConfig{
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:    getEnv("BACKUP_S3_PREFIX", "bentrade"),
			Region:    getEnv("BACKUP_S3_REGION", "us-east-1"),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Keep:      getEnvAsInt("BACKUP_KEEP", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL_MS must be positive")
	}
	return nil
}

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

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}
