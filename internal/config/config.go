// Package config loads this adapter's YAML configuration: the ambient
// server/logging surface plus the knobs each domain package exposes
// (directory cache sizing and retry policy, sequence cache size,
// traversal pacing, the transaction byte budget, and the batched-
// index-check worker pool), grounded on the teacher's nested-struct,
// yaml-tagged Config and its LoadConfig/setDefaults/Validate shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the ambient HTTP surface (metrics, health, ready).
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DirectoryConfig configures the prefix-resolution retry policy and
// adaptive cache in internal/directory.
type DirectoryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	CacheSize       int           `yaml:"cache_size"`
	FrequencyWeight float64       `yaml:"frequency_weight"`
	RecencyWeight   float64       `yaml:"recency_weight"`
}

// SequenceConfig configures the default batch size a new sequence's
// cache allocates with, before any per-sequence override.
type SequenceConfig struct {
	DefaultCacheSize int64 `yaml:"default_cache_size"`
}

// TraversalConfig configures the periodic commit-and-reset pacing of
// internal/traversal.
type TraversalConfig struct {
	ScanTimeLimit time.Duration `yaml:"scan_time_limit"`
	SleepTime     time.Duration `yaml:"sleep_time"`
}

// TxnBudgetConfig configures the approximate transaction-size guard in
// internal/txnbudget.
type TxnBudgetConfig struct {
	LimitBytes             int64   `yaml:"limit_bytes"`
	WarningFraction        float64 `yaml:"warning_fraction"`
	ThrottleFraction       float64 `yaml:"throttle_fraction"`
	CircuitBreakerFraction float64 `yaml:"circuit_breaker_fraction"`
}

// IndexWriterConfig configures the batched-until-commit uniqueness
// check pipeline's worker pool.
type IndexWriterConfig struct {
	CheckPoolWorkers int `yaml:"check_pool_workers"`
	CheckQueueDepth  int `yaml:"check_queue_depth"`
}

// MetricsConfig controls whether and where Prometheus metrics are
// served.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete configuration for the adapter process.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Directory   DirectoryConfig   `yaml:"directory"`
	Sequence    SequenceConfig    `yaml:"sequence"`
	Traversal   TraversalConfig   `yaml:"traversal"`
	TxnBudget   TxnBudgetConfig   `yaml:"txn_budget"`
	IndexWriter IndexWriterConfig `yaml:"index_writer"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Default returns a configuration populated entirely with defaults, for
// callers that want to run without a config file on disk.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults fills in unspecified configuration.
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Directory.MaxRetries == 0 {
		cfg.Directory.MaxRetries = 5
	}
	if cfg.Directory.RetryInterval == 0 {
		cfg.Directory.RetryInterval = 50 * time.Millisecond
	}
	if cfg.Directory.CacheSize == 0 {
		cfg.Directory.CacheSize = 1024
	}
	if cfg.Directory.FrequencyWeight == 0 {
		cfg.Directory.FrequencyWeight = 0.5
	}
	if cfg.Directory.RecencyWeight == 0 {
		cfg.Directory.RecencyWeight = 0.5
	}

	if cfg.Sequence.DefaultCacheSize == 0 {
		cfg.Sequence.DefaultCacheSize = 100
	}

	if cfg.Traversal.ScanTimeLimit == 0 {
		cfg.Traversal.ScanTimeLimit = time.Second
	}

	if cfg.TxnBudget.LimitBytes == 0 {
		cfg.TxnBudget.LimitBytes = 9_000_000
	}
	if cfg.TxnBudget.WarningFraction == 0 {
		cfg.TxnBudget.WarningFraction = 0.6
	}
	if cfg.TxnBudget.ThrottleFraction == 0 {
		cfg.TxnBudget.ThrottleFraction = 0.85
	}
	if cfg.TxnBudget.CircuitBreakerFraction == 0 {
		cfg.TxnBudget.CircuitBreakerFraction = 0.97
	}

	if cfg.IndexWriter.CheckPoolWorkers == 0 {
		cfg.IndexWriter.CheckPoolWorkers = 8
	}
	if cfg.IndexWriter.CheckQueueDepth == 0 {
		cfg.IndexWriter.CheckQueueDepth = 256
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Sequence.DefaultCacheSize < 1 {
		return fmt.Errorf("sequence.default_cache_size must be at least 1")
	}
	if c.TxnBudget.LimitBytes < 1 {
		return fmt.Errorf("txn_budget.limit_bytes must be positive")
	}
	if c.TxnBudget.WarningFraction <= 0 || c.TxnBudget.WarningFraction >= c.TxnBudget.ThrottleFraction {
		return fmt.Errorf("txn_budget.warning_fraction must be positive and below throttle_fraction")
	}
	if c.TxnBudget.ThrottleFraction >= c.TxnBudget.CircuitBreakerFraction {
		return fmt.Errorf("txn_budget.throttle_fraction must be below circuit_breaker_fraction")
	}
	if c.TxnBudget.CircuitBreakerFraction > 1 {
		return fmt.Errorf("txn_budget.circuit_breaker_fraction must not exceed 1")
	}
	return nil
}
