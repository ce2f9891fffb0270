// Package config loads the gateway's YAML configuration and provides
// the loaders that fetch the serialized route table from its store.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Top-level config structs
// ---------------------------------------------------------------------------

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Defaults       DefaultsConfig       `yaml:"defaults"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Routes         RoutesConfig         `yaml:"routes"`
	Logging        LoggingConfig        `yaml:"logging"`
}

type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// DefaultsConfig holds the gateway-wide forwarding knobs that per-route
// overrides merge over.
type DefaultsConfig struct {
	Retries           int     `yaml:"retries"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds"`
}

func (d DefaultsConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelaySeconds * float64(time.Second))
}

func (d DefaultsConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds * float64(time.Second))
}

type RateLimitConfig struct {
	Limit         int    `yaml:"limit"`
	WindowSeconds int    `yaml:"window_seconds"`
	// Backend: local | redis
	Backend string `yaml:"backend"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type ConcurrencyConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

type CircuitBreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	RecoveryTimeSeconds int `yaml:"recovery_time_seconds"`
}

func (c CircuitBreakerConfig) RecoveryTime() time.Duration {
	return time.Duration(c.RecoveryTimeSeconds) * time.Second
}

// RoutesConfig selects where the route table lives. The file source is
// also watched for automatic reloads; the redis source is pulled via
// /__reload.
type RoutesConfig struct {
	// Source: file | redis
	Source   string `yaml:"source"`
	File     string `yaml:"file"`
	RedisKey string `yaml:"redis_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

// RedisEnv is populated from the environment when the shared rate
// limiter or the redis route source is selected.
type RedisEnv struct {
	Host string `envconfig:"REDIS_HOST" default:"localhost"`
	Port string `envconfig:"REDIS_PORT" default:"6379"`
}

func (e RedisEnv) Addr() string { return e.Host + ":" + e.Port }

// LoadRedisEnv reads REDIS_HOST / REDIS_PORT.
func LoadRedisEnv() (RedisEnv, error) {
	var env RedisEnv
	if err := envconfig.Process("", &env); err != nil {
		return env, fmt.Errorf("parse redis env: %w", err)
	}
	return env, nil
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// Load reads and validates the config file, expanding environment
// variables first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 30
	}

	if cfg.Defaults.Retries < 0 {
		return fmt.Errorf("defaults.retries must be >= 0")
	}
	if cfg.Defaults.RetryDelaySeconds == 0 {
		cfg.Defaults.RetryDelaySeconds = 0.1
	}
	if cfg.Defaults.TimeoutSeconds == 0 {
		cfg.Defaults.TimeoutSeconds = 5
	}

	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 5
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 10
	}
	switch cfg.RateLimit.Backend {
	case "":
		cfg.RateLimit.Backend = "local"
	case "local", "redis":
	default:
		return fmt.Errorf("rate_limit.backend must be local or redis, got %q", cfg.RateLimit.Backend)
	}

	if cfg.Concurrency.MaxConcurrent == 0 {
		cfg.Concurrency.MaxConcurrent = 100
	}

	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = 3
	}
	if cfg.CircuitBreaker.RecoveryTimeSeconds == 0 {
		cfg.CircuitBreaker.RecoveryTimeSeconds = 30
	}

	switch cfg.Routes.Source {
	case "":
		cfg.Routes.Source = "file"
	case "file", "redis":
	default:
		return fmt.Errorf("routes.source must be file or redis, got %q", cfg.Routes.Source)
	}
	if cfg.Routes.Source == "file" && cfg.Routes.File == "" {
		return fmt.Errorf("routes.file is required for the file source")
	}
	if cfg.Routes.RedisKey == "" {
		cfg.Routes.RedisKey = "route_config"
	}

	return nil
}
