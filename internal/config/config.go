package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the workflow engine.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"NECTAR_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"NECTAR_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Backend selects the adapter set: "memory" for single-instance
	// deployments, "redis" for shared state across instances.
	Backend string `env:"NECTAR_BACKEND" envDefault:"memory"`

	Redis    RedisConfig
	LLM      LLMConfig
	Workers  WorkerConfig
	Triggers TriggerConfig
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// LLMConfig holds provider configuration for the action:llm node handler.
// The handler is registered only when an API key is present.
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultMaxTokens int    `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
}

// WorkerConfig holds worker pool configuration. QueueSize bounds the
// trigger handoff queue; a full queue rejects new events synchronously.
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	QueueSize           int           `env:"WORKER_QUEUE_SIZE" envDefault:"256"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TriggerConfig holds trigger adapter configuration.
type TriggerConfig struct {
	// MaxFileSize is the default upload ceiling in bytes; a trigger node
	// may configure a lower one.
	MaxFileSize int64 `env:"NECTAR_MAX_FILE_SIZE" envDefault:"10485760"`

	// AllowedFileTypes is the default extension allow-list.
	AllowedFileTypes []string `env:"NECTAR_ALLOWED_FILE_TYPES" envSeparator:"," envDefault:"pdf,png,jpg,jpeg,gif,csv,txt,json,xml"`

	// ScheduleRescan controls how often the scheduler reloads workflow
	// definitions to pick up edits.
	ScheduleRescan time.Duration `env:"NECTAR_SCHEDULE_RESCAN" envDefault:"60s"`
}

// TimeoutConfig holds execution timeout configuration.
type TimeoutConfig struct {
	NodeExecutionTimeout time.Duration `env:"TIMEOUT_NODE_EXECUTION" envDefault:"300s"` // 5 minutes
	ShutdownTimeout      time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`

	// RunMaxAge is the age after which the reconciliation sweep
	// force-finalizes a run still RUNNING (e.g. after an executor crash).
	// Zero disables the sweep.
	RunMaxAge     time.Duration `env:"NECTAR_RUN_MAX_AGE" envDefault:"24h"`
	SweepInterval time.Duration `env:"NECTAR_SWEEP_INTERVAL" envDefault:"5m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid backend: %s (must be memory or redis)", c.Backend)
	}

	if c.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for the redis backend")
	}

	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be at least 1")
	}

	if c.Triggers.MaxFileSize < 1 {
		return fmt.Errorf("max file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address.
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
