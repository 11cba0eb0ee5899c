package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

// Config represents the complete application configuration.
type Config struct {
	Server  ServerConfig            `mapstructure:"server" yaml:"server" json:"server"`
	Store   StoreConfig             `mapstructure:"store" yaml:"store" json:"store"`
	Logging LoggingConfig           `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics MetricsConfig           `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Health  HealthConfig            `mapstructure:"health" yaml:"health" json:"health"`
	Audit   AuditConfig             `mapstructure:"audit" yaml:"audit" json:"audit"`
	Buckets map[string]BucketConfig `mapstructure:"buckets" yaml:"buckets" json:"buckets"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host" json:"host"`
	Port            int           `mapstructure:"port" yaml:"port" json:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// APIBucket throttles the whole /api/v1 group per client.
	// Empty disables group throttling.
	APIBucket string `mapstructure:"api_bucket" yaml:"api_bucket" json:"api_bucket"`

	// KeyHeader names a request header (set by an upstream auth proxy) that
	// identifies the client for APIBucket. Requests without it fall back to
	// the client IP.
	KeyHeader string `mapstructure:"key_header" yaml:"key_header" json:"key_header"`

	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy" yaml:"trust_proxy" json:"trust_proxy"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver" json:"driver"`
	Path      string `mapstructure:"path" yaml:"path" json:"path"`
	URL       string `mapstructure:"url" yaml:"url" json:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token" json:"-"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile" yaml:"profile" json:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" json:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// AuditConfig controls the denial audit log.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Retention is how long denial records are kept. Zero keeps them forever.
	Retention time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`

	// BufferSize bounds the queue between request handlers and the store.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size"`
}

// BucketConfig is the limit applied to one named bucket.
type BucketConfig struct {
	Limit  int           `mapstructure:"limit" yaml:"limit" json:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window" json:"window"`
}

// Validate checks cross-field constraints the decoder cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if len(c.Buckets) == 0 {
		return fmt.Errorf("at least one bucket must be configured")
	}
	for _, name := range c.BucketNames() {
		bucket := c.Buckets[name]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("bucket name must not be empty")
		}
		if bucket.Limit < 1 {
			return fmt.Errorf("bucket %q: limit must be at least 1, got %d", name, bucket.Limit)
		}
		if bucket.Window <= 0 {
			return fmt.Errorf("bucket %q: window must be positive, got %s", name, bucket.Window)
		}
	}
	if api := strings.TrimSpace(c.Server.APIBucket); api != "" {
		if _, ok := c.Buckets[api]; !ok {
			return fmt.Errorf("server.api_bucket %q is not a configured bucket", api)
		}
	}
	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit.retention must not be negative")
	}
	return nil
}

// BucketNames returns configured bucket names, sorted.
func (c *Config) BucketNames() []string {
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BucketOptions converts bucket configuration into limiter options.
func (c *Config) BucketOptions() map[string]ratelimit.Options {
	opts := make(map[string]ratelimit.Options, len(c.Buckets))
	for name, bucket := range c.Buckets {
		opts[name] = ratelimit.Options{Limit: bucket.Limit, Window: bucket.Window}
	}
	return opts
}
