package jamulsoe

import (
	"fmt"
	"time"

	"github.com/mrchypark/jamulsoe/pkg/lock"
)

// ConfigError represents an error that occurs during the configuration process.
type ConfigError struct {
	Message string
}

// Error returns the error message for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("jamulsoe: configuration error: %s", e.Message)
}

// Config holds all the configurable settings for the lock manager.
// Option functions modify fields within this struct.
type Config struct {
	// Stripes is the number of shards each column family's lock table is
	// split into. Fixed at registration; tables are never re-sharded.
	Stripes int

	// MaxNumLocks bounds how many keys one column family may hold locked at
	// once. Zero or negative disables the cap and its bookkeeping.
	MaxNumLocks int64

	MutexFactory lock.Factory
	Clock        Clock

	// SweepInterval enables the background expired-lock sweeper when
	// positive. Zero leaves it off.
	SweepInterval time.Duration

	WorkerStrategy   string
	WorkerPoolSize   int
	WorkerQueueSize  int
	WorkerJobTimeout time.Duration

	ShutdownTimeout time.Duration
}

// Option is a function type that modifies the Config.
type Option func(cfg *Config) error

// WithStripes sets the number of stripes per column-family lock table.
func WithStripes(n int) Option {
	return func(cfg *Config) error {
		if n <= 0 {
			return &ConfigError{"stripe count must be positive"}
		}
		cfg.Stripes = n
		return nil
	}
}

// WithMaxNumLocks caps the number of concurrently held locks per column
// family. Zero or negative disables the cap.
func WithMaxNumLocks(n int64) Option {
	return func(cfg *Config) error {
		cfg.MaxNumLocks = n
		return nil
	}
}

// WithMutexFactory injects the mutex and condition-variable implementation
// used by every stripe. Useful for testing and tracing.
func WithMutexFactory(f lock.Factory) Option {
	return func(cfg *Config) error {
		if f == nil {
			return &ConfigError{"mutex factory cannot be nil"}
		}
		cfg.MutexFactory = f
		return nil
	}
}

// WithClock injects the time source used for timeouts and expiration.
func WithClock(c Clock) Option {
	return func(cfg *Config) error {
		if c == nil {
			return &ConfigError{"clock cannot be nil"}
		}
		cfg.Clock = c
		return nil
	}
}

// WithExpirationSweep enables the background sweeper that erases locks whose
// holders are confirmed expired, waking their waiters early.
func WithExpirationSweep(interval time.Duration) Option {
	return func(cfg *Config) error {
		if interval <= 0 {
			return &ConfigError{"sweep interval must be positive"}
		}
		cfg.SweepInterval = interval
		return nil
	}
}

// WithWorker specifies the worker strategy and detailed settings for
// background tasks. If not set, reasonable defaults ("pool", size 1) are used.
func WithWorker(strategyType string, poolSize int, queueSize int, jobTimeout time.Duration) Option {
	return func(cfg *Config) error {
		if strategyType == "" {
			return &ConfigError{"worker strategy type cannot be empty"}
		}
		if poolSize <= 0 {
			return &ConfigError{"worker pool size must be positive"}
		}
		if jobTimeout <= 0 {
			return &ConfigError{"worker job timeout must be positive"}
		}
		cfg.WorkerStrategy = strategyType
		cfg.WorkerPoolSize = poolSize
		cfg.WorkerQueueSize = queueSize
		cfg.WorkerJobTimeout = jobTimeout
		return nil
	}
}

// WithShutdownTimeout sets the timeout for graceful shutdown of background
// work in Close.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *Config) error {
		if timeout <= 0 {
			return &ConfigError{"shutdown timeout must be positive"}
		}
		cfg.ShutdownTimeout = timeout
		return nil
	}
}
