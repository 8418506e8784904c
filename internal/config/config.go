// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/warranty/internal/core"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response; 0 lets imports run to IMPORT_TIMEOUT
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout bounds every route except the import upload (default: 30s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the embedded schema on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// ImportConfig holds spreadsheet import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed workbook size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// SheetName is the worksheet holding the orders (default: Tabela)
	SheetName string `env:"IMPORT_SHEET_NAME" default:"Tabela"`

	// ChunkSize is the number of orders written per statement (default: 100)
	ChunkSize int `env:"IMPORT_CHUNK_SIZE" default:"100"`

	// SampleCap is the number of rejected rows kept in the report (default: 20)
	SampleCap int `env:"IMPORT_SAMPLE_CAP" default:"20"`

	// MaxConcurrent is the number of imports allowed at once (default: 1)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long a request waits for the import slot (default: 10s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"10s"`

	// Timeout is the maximum duration of one import run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// MinBusinessYear is the earliest order year accepted (default: 2000)
	MinBusinessYear int `env:"IMPORT_MIN_BUSINESS_YEAR" default:"2000"`

	// TwoDigitYears is the policy for DD/MM/YY dates: near-future or reject (default: near-future)
	TwoDigitYears string `env:"IMPORT_TWO_DIGIT_YEARS" default:"near-future"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ServiceConfig converts the import settings for core.NewService.
// Call it only on a validated Config.
func (c *Config) ServiceConfig() core.ServiceConfig {
	policy, _ := core.ParseTwoDigitYearPolicy(c.Import.TwoDigitYears)
	return core.ServiceConfig{
		ChunkSize:     c.Import.ChunkSize,
		SampleCap:     c.Import.SampleCap,
		MaxConcurrent: c.Import.MaxConcurrent,
		MaxWaitTime:   c.Import.MaxWaitTime,
		Timeout:       c.Import.Timeout,
		Dates: core.DateOptions{
			MinBusinessYear: c.Import.MinBusinessYear,
			TwoDigitYears:   policy,
		},
	}
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.ChunkSize <= 0 || c.Import.ChunkSize > 5000 {
		errs = append(errs, fmt.Sprintf("IMPORT_CHUNK_SIZE (%d) must be 1-5000", c.Import.ChunkSize))
	}
	if c.Import.SampleCap < 0 {
		errs = append(errs, "IMPORT_SAMPLE_CAP must be non-negative")
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Import.Timeout <= 0 {
		errs = append(errs, "IMPORT_TIMEOUT must be positive")
	}
	if c.Import.MinBusinessYear < 1900 || c.Import.MinBusinessYear > time.Now().Year() {
		errs = append(errs, fmt.Sprintf("IMPORT_MIN_BUSINESS_YEAR (%d) must be between 1900 and the current year",
			c.Import.MinBusinessYear))
	}
	if _, err := core.ParseTwoDigitYearPolicy(c.Import.TwoDigitYears); err != nil {
		errs = append(errs, fmt.Sprintf("IMPORT_TWO_DIGIT_YEARS: %v", err))
	}

	// Security validation
	for _, cidr := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES entry %q is not an IP or CIDR", cidr))
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d, Migrate: %v}, ",
		c.Database.MaxConns, c.Database.MinConns, c.Database.Migrate)
	fmt.Fprintf(&b, "Import: {Sheet: %q, MaxFileSize: %d, ChunkSize: %d, MaxConcurrent: %d, TwoDigitYears: %s}, ",
		c.Import.SheetName, c.Import.MaxFileSize, c.Import.ChunkSize, c.Import.MaxConcurrent, c.Import.TwoDigitYears)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
