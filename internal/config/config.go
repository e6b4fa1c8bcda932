// Package config loads changefeed settings.
//
// Values are layered: Default, then an optional YAML file, then CHANGEFEED_*
// environment variables. Command-line flags are applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "CHANGEFEED_"

// Config holds all settings for the changefeed binary.
type Config struct {
	Database  string          `yaml:"database"   env:"DATABASE"`
	LogLevel  string          `yaml:"log_level"  env:"LOG_LEVEL"`
	LogFormat string          `yaml:"log_format" env:"LOG_FORMAT"`
	Promotion PromotionConfig `yaml:"promotion"  envPrefix:"PROMOTION_"`
	Read      ReadConfig      `yaml:"read"       envPrefix:"READ_"`
	Metrics   MetricsConfig   `yaml:"metrics"    envPrefix:"METRICS_"`
}

// PromotionConfig controls the background promotion runner.
type PromotionConfig struct {
	Interval  time.Duration `yaml:"interval"   env:"INTERVAL"`
	BatchSize int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

// ReadConfig controls read defaults.
type ReadConfig struct {
	PageSize        int           `yaml:"page_size"        env:"PAGE_SIZE"`
	LongpollTimeout time.Duration `yaml:"longpoll_timeout" env:"LONGPOLL_TIMEOUT"`
	PollInterval    time.Duration `yaml:"poll_interval"    env:"POLL_INTERVAL"`
	PromoteOnRead   bool          `yaml:"promote_on_read"  env:"PROMOTE_ON_READ"`
}

// MetricsConfig controls the Prometheus endpoint served by "serve".
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database:  "changefeed.db",
		LogLevel:  "info",
		LogFormat: "text",
		Promotion: PromotionConfig{
			Interval:  time.Second,
			BatchSize: 100,
		},
		Read: ReadConfig{
			PageSize:        100,
			LongpollTimeout: 30 * time.Second,
			PollInterval:    250 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.Promotion.Interval <= 0 {
		errs = append(errs, fmt.Errorf("promotion.interval must be positive, got %s", c.Promotion.Interval))
	}
	if c.Promotion.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("promotion.batch_size must be positive, got %d", c.Promotion.BatchSize))
	}
	if c.Read.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("read.page_size must be positive, got %d", c.Read.PageSize))
	}
	if c.Read.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("read.poll_interval must be positive, got %s", c.Read.PollInterval))
	}
	if c.Read.LongpollTimeout < 0 {
		errs = append(errs, fmt.Errorf("read.longpoll_timeout must not be negative, got %s", c.Read.LongpollTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
