// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/erpimport/internal/core"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout bounds reading the request, uploads included (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"60s"`

	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout also bounds waiting for a running import (default: 60s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"60s"`

	// RequestTimeout is the middleware timeout for requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"120s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" envDefault:"postgres"`

	// URL is the PostgreSQL connection string, or the SQLite file path.
	// DB_URL is accepted as a fallback for DATABASE_URL.
	URL string `env:"DATABASE_URL"`

	MaxConns int `env:"DB_MAX_CONNS" envDefault:"10"`

	MinConns int `env:"DB_MIN_CONNS" envDefault:"2"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`

	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// EnsureSchema creates missing tables at startup (default: true)
	EnsureSchema bool `env:"DB_ENSURE_SCHEMA" envDefault:"true"`
}

// ImportConfig holds spreadsheet import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum upload size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envDefault:"52428800"`

	// BatchSize is the number of records per transaction (default: 50)
	BatchSize int `env:"IMPORT_BATCH_SIZE" envDefault:"50"`

	// ErrorCap is how many row failures are reported in detail (default: 10)
	ErrorCap int `env:"IMPORT_ERROR_CAP" envDefault:"10"`

	// HeaderTolerance is how many expected headers may be missing (default: 5)
	HeaderTolerance int `env:"IMPORT_HEADER_TOLERANCE" envDefault:"5"`

	// MaxConcurrent is the number of spreadsheets parsed at once (default: 2)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" envDefault:"2"`

	// MaxWaitTime is how long to wait for a parse slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" envDefault:"30s"`

	// ExecutionTimeout bounds a whole execution (default: 30m)
	ExecutionTimeout time.Duration `env:"IMPORT_EXECUTION_TIMEOUT" envDefault:"30m"`
}

// Options maps the import settings onto the pipeline options.
func (c ImportConfig) Options() core.Options {
	return core.Options{
		MaxFileSize:      c.MaxFileSize,
		BatchSize:        c.BatchSize,
		ErrorCap:         c.ErrorCap,
		HeaderTolerance:  c.HeaderTolerance,
		MaxConcurrent:    c.MaxConcurrent,
		MaxWait:          c.MaxWaitTime,
		ExecutionTimeout: c.ExecutionTimeout,
	}
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" envDefault:"10"`

	// TrustedProxies lists proxy CIDRs or IPs whose X-Real-IP and
	// X-Forwarded-For headers are believed. Empty trusts no headers.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	Path string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
