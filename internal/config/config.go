// Package config provides configuration management for pluginstats.
// Settings come from built-in defaults, optionally overlaid by a YAML or
// JSONC file, and finally by environment variables with the PLUGINSTATS_
// prefix. Command line overrides passed to Load are applied last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the pluginstats server.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Security SecurityConfig `yaml:"security" json:"security"`
	Engine   EngineConfig   `yaml:"engine" json:"engine"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Backup   BackupConfig   `yaml:"backup" json:"backup"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port" json:"port"`                           // Server port (default: 6464)
	Host            string  `yaml:"host" json:"host"`                           // Server host (default: 127.0.0.1)
	ReportRateLimit float64 `yaml:"report_rate_limit" json:"report_rate_limit"` // Reports per second per client (default: 10)
	ReportBurst     int     `yaml:"report_burst" json:"report_burst"`           // Report burst size per client (default: 20)
	TrustProxy      bool    `yaml:"trust_proxy" json:"trust_proxy"`             // Key rate limits on X-Forwarded-For (default: false)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine" json:"engine"`             // sqlite or postgres (default: sqlite)
	DataPath      string `yaml:"data_path" json:"data_path"`       // SQLite data directory (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn" json:"postgres_dsn"` // Required when engine is postgres
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string `yaml:"mode" json:"mode"`           // development or production (default: development)
	APIToken     string `yaml:"api_token" json:"api_token"` // Bearer token for /api routes in production
}

// EngineConfig tunes the save queue and worker.
type EngineConfig struct {
	QueueWarnThreshold int      `yaml:"queue_warn_threshold" json:"queue_warn_threshold"` // default: 10000
	MaxRetries         int      `yaml:"max_retries" json:"max_retries"`                   // default: 3
	RetryBackoff       Duration `yaml:"retry_backoff" json:"retry_backoff"`               // default: 100ms
	ShutdownTimeout    Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`         // default: 30s
	BreakerMaxFailures int      `yaml:"breaker_max_failures" json:"breaker_max_failures"` // default: 5
	BreakerTimeout     Duration `yaml:"breaker_timeout" json:"breaker_timeout"`           // default: 30s
	LoadBatchSize      int      `yaml:"load_batch_size" json:"load_batch_size"`           // default: 1000
}

// DatabasePath is the SQLite database file under DataPath.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataPath, "pluginstats.db")
}

// SnapshotConfig controls the JSON export of all plugins written on shutdown.
type SnapshotConfig struct {
	Path string `yaml:"path" json:"path"` // Empty disables the export
}

// LogConfig sends log output to a rotated file in addition to stderr.
type LogConfig struct {
	File       string `yaml:"file" json:"file"`               // Empty logs to stderr only
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // default: 10
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // default: 3
}

// BackupConfig schedules SQLite backups from the server process.
type BackupConfig struct {
	Dir      string   `yaml:"dir" json:"dir"`           // Empty disables scheduled backups
	Interval Duration `yaml:"interval" json:"interval"` // default: 1h
	Verify   bool     `yaml:"verify" json:"verify"`     // default: true
}

// Duration is a time.Duration that reads from strings such as "250ms" in
// both YAML and JSON files.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load builds the configuration from defaults, the file at path (skipped
// when path is empty), environment variables and finally overrides (command
// line flags), then validates it.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            6464,
			Host:            "127.0.0.1",
			ReportRateLimit: 10,
			ReportBurst:     20,
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		Security: SecurityConfig{
			SecurityMode: "development",
		},
		Engine: EngineConfig{
			QueueWarnThreshold: 10000,
			MaxRetries:         3,
			RetryBackoff:       Duration{100 * time.Millisecond},
			ShutdownTimeout:    Duration{30 * time.Second},
			BreakerMaxFailures: 5,
			BreakerTimeout:     Duration{30 * time.Second},
			LoadBatchSize:      1000,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Backup: BackupConfig{
			Interval: Duration{time.Hour},
			Verify:   true,
		},
	}
}

// applyEnv overrides c with any PLUGINSTATS_ variables that are set.
func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PLUGINSTATS_PORT", c.Server.Port)
	c.Server.Host = getEnv("PLUGINSTATS_HOST", c.Server.Host)
	c.Server.ReportRateLimit = getEnvFloat("PLUGINSTATS_REPORT_RATE_LIMIT", c.Server.ReportRateLimit)
	c.Server.ReportBurst = getEnvInt("PLUGINSTATS_REPORT_BURST", c.Server.ReportBurst)
	c.Server.TrustProxy = getEnvBool("PLUGINSTATS_TRUST_PROXY", c.Server.TrustProxy)

	c.Storage.StorageEngine = getEnv("PLUGINSTATS_STORAGE_ENGINE", c.Storage.StorageEngine)
	c.Storage.DataPath = getEnv("PLUGINSTATS_DATA_PATH", c.Storage.DataPath)
	c.Storage.PostgresDSN = getEnv("PLUGINSTATS_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Security.SecurityMode = getEnv("PLUGINSTATS_SECURITY_MODE", c.Security.SecurityMode)
	c.Security.APIToken = getEnv("PLUGINSTATS_API_TOKEN", c.Security.APIToken)

	c.Engine.QueueWarnThreshold = getEnvInt("PLUGINSTATS_QUEUE_WARN_THRESHOLD", c.Engine.QueueWarnThreshold)
	c.Engine.MaxRetries = getEnvInt("PLUGINSTATS_MAX_RETRIES", c.Engine.MaxRetries)
	c.Engine.RetryBackoff.Duration = getEnvDuration("PLUGINSTATS_RETRY_BACKOFF", c.Engine.RetryBackoff.Duration)
	c.Engine.ShutdownTimeout.Duration = getEnvDuration("PLUGINSTATS_SHUTDOWN_TIMEOUT", c.Engine.ShutdownTimeout.Duration)
	c.Engine.BreakerMaxFailures = getEnvInt("PLUGINSTATS_BREAKER_MAX_FAILURES", c.Engine.BreakerMaxFailures)
	c.Engine.BreakerTimeout.Duration = getEnvDuration("PLUGINSTATS_BREAKER_TIMEOUT", c.Engine.BreakerTimeout.Duration)
	c.Engine.LoadBatchSize = getEnvInt("PLUGINSTATS_LOAD_BATCH_SIZE", c.Engine.LoadBatchSize)

	c.Snapshot.Path = getEnv("PLUGINSTATS_SNAPSHOT_PATH", c.Snapshot.Path)

	c.Log.File = getEnv("PLUGINSTATS_LOG_FILE", c.Log.File)
	c.Log.MaxSizeMB = getEnvInt("PLUGINSTATS_LOG_MAX_SIZE_MB", c.Log.MaxSizeMB)
	c.Log.MaxBackups = getEnvInt("PLUGINSTATS_LOG_MAX_BACKUPS", c.Log.MaxBackups)

	c.Backup.Dir = getEnv("PLUGINSTATS_BACKUP_DIR", c.Backup.Dir)
	c.Backup.Interval.Duration = getEnvDuration("PLUGINSTATS_BACKUP_INTERVAL", c.Backup.Interval.Duration)
	c.Backup.Verify = getEnvBool("PLUGINSTATS_BACKUP_VERIFY", c.Backup.Verify)
}

// Validate checks the settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReportRateLimit <= 0 || c.Server.ReportBurst < 1 {
		return fmt.Errorf("config: report rate limit and burst must be positive")
	}

	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres storage requires PLUGINSTATS_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}

	switch c.Security.SecurityMode {
	case "development":
	case "production":
		if c.Security.APIToken == "" {
			return fmt.Errorf("config: production mode requires PLUGINSTATS_API_TOKEN")
		}
	default:
		return fmt.Errorf("config: unknown security mode %q", c.Security.SecurityMode)
	}

	if c.Log.File != "" && c.Log.MaxSizeMB < 1 {
		return fmt.Errorf("config: log max_size_mb must be >= 1, got %d", c.Log.MaxSizeMB)
	}

	if c.Backup.Dir != "" && c.Storage.StorageEngine != "sqlite" {
		return fmt.Errorf("config: backups are only supported with sqlite storage")
	}

	if c.Engine.BreakerMaxFailures < 1 {
		return fmt.Errorf("config: breaker_max_failures must be >= 1, got %d", c.Engine.BreakerMaxFailures)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("250ms", "1m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
