// Package config loads process configuration from the environment.
//
// Values are resolved from the OS environment, then an optional .env file,
// then struct tag defaults. LoadConfig fails on unparsable values and
// Validate checks cross-field rules.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"climate-platform/internal/models"
	"climate-platform/internal/processing"
	"climate-platform/pkg/database"
)

// Config is the top-level configuration shared by every command
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	ACIS     ACISConfig
	Resolver ResolverConfig
	Query    QueryConfig
	Refresh  RefreshConfig
	Cache    CacheConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds optional Postgres persistence settings
type DatabaseConfig struct {
	Enabled         bool          `envconfig:"DB_ENABLED" default:"false"`
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432" validate:"min=1,max=65535"`
	User            string        `envconfig:"DB_USER" default:"climate"`
	Password        string        `envconfig:"DB_PASSWORD"`
	Database        string        `envconfig:"DB_NAME" default:"climate"`
	SSLMode         string        `envconfig:"DB_SSLMODE" default:"disable" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10" validate:"min=1"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5" validate:"min=0"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`
}

// Postgres converts the section into the database package config
func (d DatabaseConfig) Postgres() *database.Config {
	return &database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level   string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error fatal DEBUG INFO WARN WARNING ERROR FATAL"`
	Service string `envconfig:"SERVICE_NAME" default:"climate-platform"`
	Version string `envconfig:"SERVICE_VERSION" default:"1.0.0"`
}

// ACISConfig holds upstream client settings
type ACISConfig struct {
	BaseURL          string        `envconfig:"ACIS_BASE_URL" default:"https://data.rcc-acis.org" validate:"required,url"`
	Timeout          time.Duration `envconfig:"ACIS_TIMEOUT" default:"60s"`
	MaxRetries       int           `envconfig:"ACIS_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
	RetryBaseDelay   time.Duration `envconfig:"ACIS_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay    time.Duration `envconfig:"ACIS_RETRY_MAX_DELAY" default:"10s"`
	BreakerFailures  uint32        `envconfig:"ACIS_BREAKER_FAILURES" default:"5" validate:"min=1"`
	BreakerOpenDelay time.Duration `envconfig:"ACIS_BREAKER_OPEN_DELAY" default:"30s"`
	UserAgent        string        `envconfig:"ACIS_USER_AGENT" default:"climate-platform/1.0"`
}

// ResolverConfig holds token resolution options
type ResolverConfig struct {
	MissingValue       float64 `envconfig:"RESOLVER_MISSING_VALUE" default:"NaN"`
	TraceValue         float64 `envconfig:"RESOLVER_TRACE_VALUE" default:"0.00001"`
	Horizon            int     `envconfig:"RESOLVER_ACCUMULATION_HORIZON" default:"50" validate:"min=1"`
	DistributionPolicy string  `envconfig:"RESOLVER_ACCUMULATION_DISTRIBUTION_POLICY" default:"average-across-run"`
	StandaloneAPolicy  string  `envconfig:"RESOLVER_STANDALONE_A_POLICY" default:"equal-to-value" validate:"oneof=equal-to-value"`
	StandaloneSPolicy  string  `envconfig:"RESOLVER_STANDALONE_S_POLICY" default:"force-zero" validate:"oneof=force-zero"`
	AuditLog           bool    `envconfig:"RESOLVER_AUDIT_LOG" default:"true"`
}

// Options converts the section into resolver options
func (r ResolverConfig) Options() ([]processing.Option, error) {
	policy, err := processing.LookupDistributionPolicy(r.DistributionPolicy)
	if err != nil {
		return nil, err
	}
	return []processing.Option{
		processing.WithMissingValue(r.MissingValue),
		processing.WithTraceValue(r.TraceValue),
		processing.WithHorizon(r.Horizon),
		processing.WithDistributionPolicy(policy),
		processing.WithStandalonePolicies(r.StandaloneAPolicy, r.StandaloneSPolicy),
	}, nil
}

// QueryConfig holds region query limits
type QueryConfig struct {
	MaxStations           int  `envconfig:"QUERY_MAX_STATIONS" default:"1000" validate:"min=1"`
	FetchConcurrency      int  `envconfig:"QUERY_FETCH_CONCURRENCY" default:"8" validate:"min=1,max=64"`
	SkipMalformedStations bool `envconfig:"QUERY_SKIP_MALFORMED_STATIONS" default:"false"`
	Persist               bool `envconfig:"QUERY_PERSIST" default:"false"`
}

// RefreshConfig holds the scheduled refresh job settings
type RefreshConfig struct {
	Enabled  bool          `envconfig:"REFRESH_ENABLED" default:"false"`
	SIDs     []string      `envconfig:"REFRESH_SIDS"`
	Elements []string      `envconfig:"REFRESH_ELEMENTS" default:"pcpn"`
	Interval time.Duration `envconfig:"REFRESH_INTERVAL" default:"24h"`
	LookBack time.Duration `envconfig:"REFRESH_LOOKBACK" default:"8760h"`
}

// CacheConfig holds the query cache settings
type CacheConfig struct {
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"15m"`
	PurgeInterval time.Duration `envconfig:"CACHE_PURGE_INTERVAL" default:"5m"`
}

// LoadConfig reads .env if present, then the environment
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if _, err := c.Resolver.Options(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if !(c.Resolver.TraceValue > 0) {
		return fmt.Errorf("configuration validation failed: RESOLVER_TRACE_VALUE must be positive")
	}
	if c.ACIS.RetryMaxDelay < c.ACIS.RetryBaseDelay {
		return fmt.Errorf("configuration validation failed: ACIS_RETRY_MAX_DELAY must not be below ACIS_RETRY_BASE_DELAY")
	}
	if c.Refresh.Enabled {
		if len(c.Refresh.SIDs) == 0 {
			return fmt.Errorf("configuration validation failed: REFRESH_SIDS is required when REFRESH_ENABLED is set")
		}
		if c.Refresh.Interval < time.Minute {
			return fmt.Errorf("configuration validation failed: REFRESH_INTERVAL must be at least 1m")
		}
		for _, e := range c.Refresh.Elements {
			if _, err := models.ParseElement(e); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
		}
	}
	return nil
}

// ParsedElements converts the configured element names
func (r RefreshConfig) ParsedElements() ([]models.Element, error) {
	elements := make([]models.Element, 0, len(r.Elements))
	for _, e := range r.Elements {
		elem, err := models.ParseElement(e)
		if err != nil {
			return nil, err
		}
		elements = append(elements, elem)
	}
	return elements, nil
}
