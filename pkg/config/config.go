// Package config defines the runtime configuration for the metadata mirror.
//
// Configuration is resolved in layers: built-in defaults, then an optional
// YAML config file, then METAMIRROR_* environment variables. Flags applied by
// the CLI win over all of them.
//
// Example:
//
//	cfg, err := config.Load("metamirror.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Sync.Concurrency = 4
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cloudpivot/metamirror/pkg/errors"
)

// Config is the full runtime configuration, organized into sections
type Config struct {
	// AWS controls credential and region resolution
	AWS AWSConfig `mapstructure:"aws" yaml:"aws"`

	// Store configures the local database
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Sync tunes the sync controller
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`

	// Reliability settings for retries and API pacing
	Reliability ReliabilityConfig `mapstructure:"reliability" yaml:"reliability"`

	// Observability settings for logging
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// AWSConfig selects how AWS clients authenticate and where they point
type AWSConfig struct {
	// Profile names a shared-config profile; empty uses the default chain
	Profile string `mapstructure:"profile" yaml:"profile"`
	// Region overrides the resolved region when set
	Region string `mapstructure:"region" yaml:"region"`
}

// StoreConfig configures the embedded database
type StoreConfig struct {
	// Path of the database file; empty opens an in-memory database
	Path string `mapstructure:"path" yaml:"path"`
	// TablePrefix is prepended to every materialized table name
	TablePrefix string `mapstructure:"table_prefix" yaml:"table_prefix"`
}

// SyncConfig tunes task execution
type SyncConfig struct {
	// Concurrency bounds parallel sync tasks
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// BatchSize caps rows buffered before a write
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// Timeout bounds one whole sync invocation
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ReliabilityConfig controls retry backoff and request pacing
type ReliabilityConfig struct {
	// RetryAttempts is the maximum tries per page fetch
	RetryAttempts int `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
	// RetryMultiplier grows the delay between attempts
	RetryMultiplier float64 `mapstructure:"retry_multiplier" yaml:"retry_multiplier"`
	// RatePerSecond limits list calls per second per task (0 = unlimited)
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	// Burst is the rate limiter bucket size
	Burst int `mapstructure:"burst" yaml:"burst"`
}

// ObservabilityConfig controls logging
type ObservabilityConfig struct {
	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		AWS: AWSConfig{},
		Store: StoreConfig{
			Path: "metamirror.duckdb",
		},
		Sync: SyncConfig{
			Concurrency: 2,
			BatchSize:   500,
			Timeout:     30 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   5,
			RetryDelay:      time.Second,
			MaxRetryDelay:   30 * time.Second,
			RetryMultiplier: 2.0,
			RatePerSecond:   10,
			Burst:           5,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

// Load resolves configuration from defaults, an optional file, and
// METAMIRROR_* environment variables (nested keys use underscores, e.g.
// METAMIRROR_SYNC_CONCURRENCY).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("METAMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("aws.profile", d.AWS.Profile)
	v.SetDefault("aws.region", d.AWS.Region)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.table_prefix", d.Store.TablePrefix)
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("reliability.retry_attempts", d.Reliability.RetryAttempts)
	v.SetDefault("reliability.retry_delay", d.Reliability.RetryDelay)
	v.SetDefault("reliability.max_retry_delay", d.Reliability.MaxRetryDelay)
	v.SetDefault("reliability.retry_multiplier", d.Reliability.RetryMultiplier)
	v.SetDefault("reliability.rate_per_second", d.Reliability.RatePerSecond)
	v.SetDefault("reliability.burst", d.Reliability.Burst)
	v.SetDefault("observability.log_level", d.Observability.LogLevel)
}

// Validate checks the configuration for values that would misbehave at runtime
func (c *Config) Validate() error {
	if c.Sync.Concurrency < 1 {
		return errors.New(errors.ErrorTypeConfig, "sync.concurrency must be at least 1")
	}
	if c.Sync.BatchSize < 1 {
		return errors.New(errors.ErrorTypeConfig, "sync.batch_size must be at least 1")
	}
	if c.Sync.Timeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "sync.timeout must be positive")
	}
	if c.Reliability.RetryAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "reliability.retry_attempts must be at least 1")
	}
	if c.Reliability.RetryMultiplier < 1 {
		return errors.New(errors.ErrorTypeConfig, "reliability.retry_multiplier must be at least 1")
	}
	if c.Reliability.RatePerSecond < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.rate_per_second must not be negative")
	}
	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(errors.ErrorTypeConfig, "observability.log_level must be one of debug, info, warn, error").
			WithDetail("log_level", c.Observability.LogLevel)
	}
	return nil
}

// RetryPolicy converts reliability settings into pager retry parameters
func (c *Config) RetryPolicy() (attempts int, initial, max time.Duration, multiplier float64) {
	return c.Reliability.RetryAttempts, c.Reliability.RetryDelay, c.Reliability.MaxRetryDelay, c.Reliability.RetryMultiplier
}
