// Package config defines the configuration of the DFS portal services.
// Configuration is loaded once at process start and is immutable thereafter;
// runtime-tunable values live in the settings service instead.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// A missing required value or invalid format fails startup.
package config

import (
	"time"

	"dfsportal/internal/types"
)

// SecretString is an alias for types.SecretString so config structs can
// declare redacted fields without importing types.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"dfs-portal"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	Backend       BackendConfig
	Drafts        DraftsConfig
	Stats         StatsConfig
	AWS           AWSConfig
	Observability ObservabilityConfig
	Janitor       JanitorConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// StorageConfig selects and sizes the draft key/value backend.
type StorageConfig struct {
	Backend     string `envconfig:"STORAGE_BACKEND" default:"sqlite" validate:"oneof=memory sqlite postgres"`
	Origin      string `envconfig:"STORAGE_ORIGIN" default:"dfs-portal" validate:"required"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/drafts.db" validate:"required_if=Backend sqlite"`
	QuotaBytes  int64  `envconfig:"STORAGE_QUOTA_BYTES" default:"5242880" validate:"gte=0"`
	AutoMigrate bool   `envconfig:"STORAGE_AUTO_MIGRATE" default:"false"`
}

// DatabaseConfig holds the Postgres connection used for profiles, settings,
// stats, audit and (optionally) draft storage.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// Enabled reports whether a database URL was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL.IsSet()
}

// BackendConfig points at the hosted backend's REST interface, used as an
// alternative stats source.
type BackendConfig struct {
	URL     string        `envconfig:"BACKEND_URL" validate:"omitempty,url"`
	APIKey  SecretString  `envconfig:"BACKEND_API_KEY"`
	Timeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`
}

// DraftsConfig holds draft expiry tuning.
type DraftsConfig struct {
	WarningThreshold time.Duration `envconfig:"DRAFT_WARNING_THRESHOLD" default:"2h" validate:"gt=0"`
}

// StatsConfig selects the dashboard stats source and poll interval.
type StatsConfig struct {
	Source   string        `envconfig:"STATS_SOURCE" default:"none" validate:"oneof=none database backend"`
	Interval time.Duration `envconfig:"STATS_INTERVAL" default:"20s" validate:"gte=1s"`
	// Timezone decides where "today" starts for the daily counters.
	Timezone string `envconfig:"STATS_TIMEZONE" default:"Asia/Seoul"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"ap-northeast-2"`
	NoticeQueueURL string `envconfig:"NOTICE_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"DFSPortal"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// JanitorConfig controls the maintenance process when it runs outside Lambda.
type JanitorConfig struct {
	Interval time.Duration `envconfig:"JANITOR_INTERVAL" default:"15m" validate:"gte=1m"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure when resolving secret references.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
