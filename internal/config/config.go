// Package config loads and validates the application configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the JLO_ prefix (e.g., JLO_DATABASE_PATH
// overrides database.path in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The JWT_SECRET variable has no JLO_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retention RetentionConfig `mapstructure:"retention"`
	Parsing   ParsingConfig   `mapstructure:"parsing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds SQLite database configuration
type DatabaseConfig struct {
	// Path is the SQLite database file path. ":memory:" opens an
	// in-memory database, useful for tests.
	Path string `mapstructure:"path"`
	// MaxConnections bounds the sql.DB pool. SQLite serializes writes,
	// so a small pool is enough; values below 1 are clamped to 1.
	MaxConnections int `mapstructure:"max_connections"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret signs web session tokens. When empty a development
	// fallback is used and a warning is logged at startup.
	JWTSecret string `mapstructure:"jwt_secret"`
	// SessionTTL is how long a web session token remains valid
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// APIKeyPrefix is prepended to generated ingestion keys
	APIKeyPrefix string `mapstructure:"api_key_prefix"`
	// BootstrapAdminPassword seeds the initial admin user on first boot.
	// Ignored once any web user exists.
	BootstrapAdminPassword string `mapstructure:"bootstrap_admin_password"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// IngestConfig holds write queue configuration for log ingestion
type IngestConfig struct {
	// QueueSize bounds the in-memory buffer between HTTP handlers and
	// the writer goroutine. Entries beyond this are dropped.
	QueueSize int `mapstructure:"queue_size"`
	// BatchSize is the maximum number of entries per insert transaction
	BatchSize int `mapstructure:"batch_size"`
	// FlushInterval is how long a partial batch may wait before being written
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RetentionConfig holds retention engine configuration
type RetentionConfig struct {
	// Enabled toggles the background cleanup scheduler. Manual trigger
	// via the API works regardless.
	Enabled bool `mapstructure:"enabled"`
	// Interval is how often the scheduler evaluates retention policies
	Interval time.Duration `mapstructure:"interval"`
	// DeleteBatchSize is the number of rows deleted per transaction
	DeleteBatchSize int `mapstructure:"delete_batch_size"`
	// StaleRunAfter is the age past which an unfinished run is presumed
	// orphaned by a crash and marked failed
	StaleRunAfter time.Duration `mapstructure:"stale_run_after"`
}

// ParsingConfig holds parsing rule engine configuration
type ParsingConfig struct {
	// Enabled toggles rule evaluation at ingest time
	Enabled bool `mapstructure:"enabled"`
	// CacheRefreshInterval is how often the in-memory rule set is
	// reloaded from the database
	CacheRefreshInterval time.Duration `mapstructure:"cache_refresh_interval"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.path",
		"database.max_connections",

		// Auth
		"auth.jwt_secret",
		"auth.session_ttl",
		"auth.api_key_prefix",
		"auth.bootstrap_admin_password",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Ingest
		"ingest.queue_size",
		"ingest.batch_size",
		"ingest.flush_interval",

		// Retention
		"retention.enabled",
		"retention.interval",
		"retention.delete_batch_size",
		"retention.stale_run_after",

		// Parsing
		"parsing.enabled",
		"parsing.cache_refresh_interval",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

// LoadAndWatch loads configuration and watches the config file for changes.
// onChange is invoked with the freshly re-read configuration whenever the
// file is rewritten; invalid rewrites are ignored and the previous config
// stays in effect. Only dynamic settings (currently logging.level) should be
// re-applied by callers; structural settings like ports require a restart.
func LoadAndWatch(configPath string, onChange func(*Config)) (*Config, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() != "" && onChange != nil {
		v.OnConfigChange(func(fsnotify.Event) {
			var next Config
			if err := v.Unmarshal(&next); err != nil {
				return
			}
			if err := next.Validate(); err != nil {
				return
			}
			onChange(&next)
		})
		v.WatchConfig()
	}
	return cfg, nil
}

func load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/just-logging")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("JLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Auth.BootstrapAdminPassword = expandEnv(cfg.Auth.BootstrapAdminPassword)

	// JWT_SECRET without the app prefix wins, for generic secret injectors
	if s := os.Getenv("JWT_SECRET"); s != "" {
		cfg.Auth.JWTSecret = s
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, v, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.path", "./data/logs.db")
	v.SetDefault("database.max_connections", 1)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("auth.api_key_prefix", "jlo_")
	v.SetDefault("auth.bootstrap_admin_password", "")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 600)
	v.SetDefault("security.rate_limiting.burst", 100)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "just-logging")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Ingest defaults
	v.SetDefault("ingest.queue_size", 10000)
	v.SetDefault("ingest.batch_size", 100)
	v.SetDefault("ingest.flush_interval", "100ms")

	// Retention defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.interval", "1h")
	v.SetDefault("retention.delete_batch_size", 500)
	v.SetDefault("retention.stale_run_after", "2h")

	// Parsing defaults
	v.SetDefault("parsing.enabled", true)
	v.SetDefault("parsing.cache_refresh_interval", "30s")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate ingest
	if c.Ingest.QueueSize < 1 {
		return fmt.Errorf("ingest.queue_size must be positive, got %d", c.Ingest.QueueSize)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.FlushInterval <= 0 {
		return fmt.Errorf("ingest.flush_interval must be positive, got %s", c.Ingest.FlushInterval)
	}

	// Validate retention
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive, got %s", c.Retention.Interval)
	}
	if c.Retention.DeleteBatchSize < 1 {
		return fmt.Errorf("retention.delete_batch_size must be positive, got %d", c.Retention.DeleteBatchSize)
	}
	if c.Retention.StaleRunAfter <= 0 {
		return fmt.Errorf("retention.stale_run_after must be positive, got %s", c.Retention.StaleRunAfter)
	}

	return nil
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
