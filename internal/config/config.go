// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Cache backends
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendBadger = "badger"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Reporting API settings
	APIBaseURL            string  `mapstructure:"apibaseurl"`
	AccessToken           string  `mapstructure:"accesstoken"`
	TokenFile             string  `mapstructure:"tokenfile"`
	MaxConcurrentRequests int     `mapstructure:"maxconcurrentrequests"`
	RequestsPerSecond     float64 `mapstructure:"requestspersecond"`
	RequestTimeoutSeconds int     `mapstructure:"requesttimeoutseconds"`
	PageSize              int     `mapstructure:"pagesize"`
	RowLimit              int     `mapstructure:"rowlimit"`
	HighVolumeRowsPerDay  float64 `mapstructure:"highvolumerowsperday"`

	// Cache settings
	CacheBackend       string `mapstructure:"cachebackend"`
	BadgerPath         string `mapstructure:"badgerpath"`
	CacheRetentionDays int    `mapstructure:"cacheretentiondays"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// APIKey protects the report API when set.
	APIKey string `mapstructure:"apikey"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "vitalsreport")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("publicdir", "web/dist/assets")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("apibaseurl", "https://analyticsreporting.googleapis.com")
		v.SetDefault("maxconcurrentrequests", 7)
		v.SetDefault("requestspersecond", 0)
		v.SetDefault("requesttimeoutseconds", 120)
		v.SetDefault("pagesize", 100000)
		v.SetDefault("rowlimit", 1000000)
		v.SetDefault("highvolumerowsperday", 100000)
		v.SetDefault("cachebackend", CacheBackendSQLite)
		v.SetDefault("badgerpath", "storage/badger")
		v.SetDefault("cacheretentiondays", 400)
		v.SetDefault("jobintervalseconds", 3600)

		v.BindEnv("appname", "VITALS_APP_NAME")
		v.BindEnv("appport", "VITALS_APP_PORT")
		v.BindEnv("environment", "VITALS_ENV")
		v.BindEnv("loglevel", "VITALS_LOG_LEVEL")
		v.BindEnv("privatekey", "VITALS_PRIVATE_KEY")
		v.BindEnv("storagepath", "VITALS_STORAGE_PATH")
		v.BindEnv("publicdir", "VITALS_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "VITALS_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "VITALS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "VITALS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "VITALS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "VITALS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "VITALS_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "VITALS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "VITALS_DB_MAX_IDLE_CONNS")
		v.BindEnv("apibaseurl", "VITALS_API_BASE_URL")
		v.BindEnv("accesstoken", "VITALS_ACCESS_TOKEN")
		v.BindEnv("tokenfile", "VITALS_TOKEN_FILE")
		v.BindEnv("maxconcurrentrequests", "VITALS_MAX_CONCURRENT_REQUESTS")
		v.BindEnv("requestspersecond", "VITALS_REQUESTS_PER_SECOND")
		v.BindEnv("requesttimeoutseconds", "VITALS_REQUEST_TIMEOUT_SECONDS")
		v.BindEnv("pagesize", "VITALS_PAGE_SIZE")
		v.BindEnv("rowlimit", "VITALS_ROW_LIMIT")
		v.BindEnv("highvolumerowsperday", "VITALS_HIGH_VOLUME_ROWS_PER_DAY")
		v.BindEnv("cachebackend", "VITALS_CACHE_BACKEND")
		v.BindEnv("badgerpath", "VITALS_BADGER_PATH")
		v.BindEnv("cacheretentiondays", "VITALS_CACHE_RETENTION_DAYS")
		v.BindEnv("jobintervalseconds", "VITALS_JOB_INTERVAL_SECONDS")
		v.BindEnv("apikey", "VITALS_API_KEY")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.IsProduction() && cfg.PrivateKey == defaultPrivateKey {
			log.Fatal("Production requires a unique VITALS_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	switch c.CacheBackend {
	case CacheBackendSQLite, CacheBackendBadger:
	default:
		return fmt.Errorf("invalid cache backend: %s", c.CacheBackend)
	}

	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max concurrent requests must be positive, got %d", c.MaxConcurrentRequests)
	}
	if c.PageSize <= 0 || c.RowLimit <= 0 {
		return fmt.Errorf("page size and row limit must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative")
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetRequestTimeout returns the per-request timeout for the reporting API.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// GetJobInterval returns how often background maintenance runs.
func (c *Config) GetJobInterval() time.Duration {
	if c.JobIntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.JobIntervalSeconds) * time.Second
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for E2E test stability)
// - Development/Production: 10 (allows concurrent reads for parallel dashboard queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1 // Required for E2E test stability
	}

	return 10 // Higher concurrency for development and production
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (matches MaxOpenConns for test stability)
// - Development/Production: 5 (keep half the connections warm for reuse)
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1 // Matches MaxOpenConns for test stability
	}

	return 5 // Keep half the pool warm for development and production
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
