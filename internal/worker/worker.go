// Package worker runs the lock manager's background jobs (currently the
// expired-lock sweeper) behind a pluggable execution strategy.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Job is a unit of work executed asynchronously by a worker. It must capture
// everything it needs as a closure.
type Job func(ctx context.Context)

// ErrShutdownTimeout is returned when workers do not drain within the
// shutdown timeout.
var ErrShutdownTimeout = errors.New("worker: shutdown timed out")

// Strategy decides how submitted jobs are executed.
type Strategy interface {
	Submit(job Job) bool
	Shutdown(timeout time.Duration) error
}

// Manager owns a strategy and forwards jobs to it.
type Manager struct {
	strategy Strategy
	logger   log.Logger
}

// NewManager creates a worker manager with the given strategy. jobTimeout is
// the maximum run time applied to each job.
func NewManager(strategyType string, logger log.Logger, poolSize int, queueSize int, jobTimeout time.Duration) (*Manager, error) {
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}

	var strategy Strategy
	switch strategyType {
	case "all":
		strategy = NewAllStrategy(logger, jobTimeout)
	case "pool":
		strategy = NewPoolStrategy(logger, poolSize, queueSize, jobTimeout)
	default:
		level.Info(logger).Log("msg", "unknown strategy, defaulting to 'pool'", "strategy", strategyType)
		strategy = NewPoolStrategy(logger, poolSize, queueSize, jobTimeout)
	}

	return &Manager{
		strategy: strategy,
		logger:   logger,
	}, nil
}

// Submit forwards a job to the configured strategy. It reports false when the
// job was dropped.
func (m *Manager) Submit(job Job) bool {
	return m.strategy.Submit(job)
}

// Shutdown drains the workers, waiting at most timeout.
func (m *Manager) Shutdown(timeout time.Duration) error {
	err := m.strategy.Shutdown(timeout)
	if err != nil {
		level.Error(m.logger).Log("msg", "error during worker shutdown", "err", err)
		return err
	}
	return nil
}
