package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// PoolStrategy executes jobs on a fixed pool of workers fed from a bounded
// queue. Submissions that find the queue full are dropped rather than
// blocking the submitter.
type PoolStrategy struct {
	logger       log.Logger
	timeout      time.Duration
	poolSize     int
	jobs         chan Job
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

var _ Strategy = (*PoolStrategy)(nil)

// NewPoolStrategy creates and starts a pool of poolSize workers.
func NewPoolStrategy(logger log.Logger, poolSize int, queueSize int, timeout time.Duration) *PoolStrategy {
	if poolSize <= 0 {
		poolSize = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	p := &PoolStrategy{
		logger:   logger,
		poolSize: poolSize,
		timeout:  timeout,
		jobs:     make(chan Job, queueSize),
	}
	p.start()
	return p
}

func (p *PoolStrategy) start() {
	p.wg.Add(p.poolSize)
	for i := 0; i < p.poolSize; i++ {
		go func(workerID int) {
			defer p.wg.Done()
			logger := log.With(p.logger, "worker_id", workerID)
			// Ranging over the queue drains remaining jobs after Shutdown
			// closes it, then exits.
			for job := range p.jobs {
				ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
				job(ctx)
				cancel()
			}
			level.Debug(logger).Log("msg", "worker stopped")
		}(i)
	}
}

// Submit enqueues a job, dropping it when the queue is full.
func (p *PoolStrategy) Submit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		level.Warn(p.logger).Log("msg", "worker queue is full, dropping job")
		return false
	}
}

// Shutdown stops accepting jobs, drains the queue and waits for the workers,
// at most timeout.
func (p *PoolStrategy) Shutdown(timeout time.Duration) error {
	p.shutdownOnce.Do(func() {
		close(p.jobs)
	})

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		level.Error(p.logger).Log("msg", "shutdown timed out", "timeout", timeout)
		return ErrShutdownTimeout
	}
}
