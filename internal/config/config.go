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
	DataDir        string // Directory holding the byte store database (always absolute)
	LogLevel       string
	Port           int
	DevMode        bool
	MarketTimezone string

	StoreCapacityBytes     int64 // Quota of the persistent byte store
	HistoryMaxPoints       int
	HistoryEmergencyPoints int

	BatchRefreshDelay time.Duration // Pause between funds during a batch holdings refresh
	DailyRefreshHour  int           // Stale holdings are refreshed after this hour

	HolidayAPIURL   string
	QuoteAPIURL     string
	FundgzAPIURL    string
	HoldingsAPIURL  string
	PingzhongAPIURL string

	Backup *BackupConfig
}

// BackupConfig holds off-site snapshot backup settings (S3-compatible storage)
type BackupConfig struct {
	Enabled         bool
	Endpoint        string // Empty means the AWS default endpoint for Region
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Keep            int // Number of snapshots retained by rotation
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("NAVWATCH_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        dataDir,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnvAsInt("NAVWATCH_PORT", 8080),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		MarketTimezone: getEnv("MARKET_TIMEZONE", "Asia/Shanghai"),

		StoreCapacityBytes:     getEnvAsInt64("STORE_CAPACITY_BYTES", 5*1024*1024), // localStorage-sized quota
		HistoryMaxPoints:       getEnvAsInt("HISTORY_MAX_POINTS", 200),
		HistoryEmergencyPoints: getEnvAsInt("HISTORY_EMERGENCY_POINTS", 30),

		BatchRefreshDelay: getEnvAsDuration("BATCH_REFRESH_DELAY", 2*time.Second),
		DailyRefreshHour:  getEnvAsInt("DAILY_REFRESH_HOUR", 9),

		HolidayAPIURL:   getEnv("HOLIDAY_API_URL", "https://timor.tech/api/holiday/year"),
		QuoteAPIURL:     getEnv("QUOTE_API_URL", "https://qt.gtimg.cn/q="),
		FundgzAPIURL:    getEnv("FUNDGZ_API_URL", "https://fundgz.1234567.com.cn/js"),
		HoldingsAPIURL:  getEnv("HOLDINGS_API_URL", "https://fundf10.eastmoney.com/FundArchivesDatas.aspx"),
		PingzhongAPIURL: getEnv("PINGZHONG_API_URL", "https://fund.eastmoney.com/pingzhongdata"),

		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBackupConfig loads snapshot backup configuration from environment variables
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Bucket:          getEnv("BACKUP_BUCKET", ""),
		Region:          getEnv("BACKUP_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		Keep:            getEnvAsInt("BACKUP_KEEP", 14),
	}
}

// Location returns the market time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.MarketTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid market timezone %q: %w", c.MarketTimezone, err)
	}
	return loc, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.StoreCapacityBytes <= 0 {
		return fmt.Errorf("STORE_CAPACITY_BYTES must be positive, got %d", c.StoreCapacityBytes)
	}
	if c.HistoryMaxPoints <= 0 {
		return fmt.Errorf("HISTORY_MAX_POINTS must be positive, got %d", c.HistoryMaxPoints)
	}
	if c.HistoryEmergencyPoints <= 0 || c.HistoryEmergencyPoints > c.HistoryMaxPoints {
		return fmt.Errorf("HISTORY_EMERGENCY_POINTS must be in (0, %d], got %d", c.HistoryMaxPoints, c.HistoryEmergencyPoints)
	}
	if c.DailyRefreshHour < 0 || c.DailyRefreshHour > 23 {
		return fmt.Errorf("DAILY_REFRESH_HOUR must be in [0, 23], got %d", c.DailyRefreshHour)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Backup != nil && c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("BACKUP_BUCKET is required when backups are enabled")
		}
		if c.Backup.AccessKeyID == "" || c.Backup.SecretAccessKey == "" {
			return fmt.Errorf("backup credentials are required when backups are enabled")
		}
		if c.Backup.Keep <= 0 {
			return fmt.Errorf("BACKUP_KEEP must be positive, got %d", c.Backup.Keep)
		}
	}

	return nil
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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
