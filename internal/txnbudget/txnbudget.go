// Package txnbudget tracks an approximate running estimate of bytes
// written in the current transaction so bulk writers (the index
// writer's Write path, the long index traversal) can
// proactively request a checkpoint before hitting the store's hard
// transaction-size limit, rather than only reacting to a non-retryable
// error after the fact (SPEC_FULL.md §5). Adapted from the teacher's
// disk-space warning/throttle/circuit-breaker thresholds, replacing
// syscall.Statfs disk percentages with an in-process byte counter reset
// on commit.
package txnbudget

import (
	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/errors"
)

// Thresholds, as fractions of Limit, mirroring the teacher's
// warning/throttle/circuit-breaker disk-usage bands.
type Config struct {
	Limit                  int64
	WarningFraction        float64
	ThrottleFraction       float64
	CircuitBreakerFraction float64
}

func defaultConfig(cfg *Config) *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 9_000_000 // stay under a 10MB-class transaction-size limit
	}
	if cfg.WarningFraction <= 0 {
		cfg.WarningFraction = 0.6
	}
	if cfg.ThrottleFraction <= 0 {
		cfg.ThrottleFraction = 0.85
	}
	if cfg.CircuitBreakerFraction <= 0 {
		cfg.CircuitBreakerFraction = 0.97
	}
	return cfg
}

// Budget is a single transaction's running byte estimate. Not safe for
// concurrent use — one Budget belongs to one session's transaction, just
// like the transaction itself (spec.md §5).
type Budget struct {
	cfg     *Config
	written int64
	logger  *zap.Logger
}

func New(cfg *Config, logger *zap.Logger) *Budget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Budget{cfg: defaultConfig(cfg), logger: logger}
}

// Add records an estimated write of n bytes (key+value sizes, typically)
// against the running total.
func (b *Budget) Add(n int) {
	b.written += int64(n)
}

// Reset zeroes the counter, called whenever the caller commits or resets
// its transaction.
func (b *Budget) Reset() {
	b.written = 0
}

func (b *Budget) usage() float64 {
	if b.cfg.Limit == 0 {
		return 0
	}
	return float64(b.written) / float64(b.cfg.Limit)
}

// ShouldCheckpoint reports whether the caller should proactively commit
// and reset before the store itself would reject the transaction as
// oversized.
func (b *Budget) ShouldCheckpoint() bool {
	return b.usage() >= b.cfg.ThrottleFraction
}

// CheckBeforeWrite returns a NonRetryableStoreError once usage crosses
// the circuit-breaker band, analogous to the teacher's DiskSpaceError:
// past this point the caller must checkpoint, not merely consider it.
func (b *Budget) CheckBeforeWrite() error {
	usage := b.usage()
	if usage >= b.cfg.CircuitBreakerFraction {
		return errors.NonRetryableStoreError("estimated transaction size exceeds the configured budget; commit and reset before continuing", nil).
			WithDetail("estimated_bytes", b.written).
			WithDetail("limit_bytes", b.cfg.Limit)
	}
	if usage >= b.cfg.WarningFraction {
		b.logger.Warn("transaction byte budget under pressure",
			zap.Int64("estimated_bytes", b.written),
			zap.Int64("limit_bytes", b.cfg.Limit))
	}
	return nil
}
