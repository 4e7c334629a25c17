package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// AllStrategy runs every submitted job on its own goroutine. Submissions are
// never dropped.
type AllStrategy struct {
	logger  log.Logger
	timeout time.Duration
	jobs    chan Job
	wg      sync.WaitGroup
}

var _ Strategy = (*AllStrategy)(nil)

// NewAllStrategy creates and starts an AllStrategy.
func NewAllStrategy(logger log.Logger, timeout time.Duration) *AllStrategy {
	s := &AllStrategy{
		logger:  logger,
		timeout: timeout,
		jobs:    make(chan Job),
	}
	s.start()
	return s
}

func (s *AllStrategy) start() {
	go func() {
		for job := range s.jobs {
			go func(j Job) {
				defer s.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
				defer cancel()
				j(ctx)
			}(job)
		}
	}()
}

// Submit hands the job to a fresh goroutine.
func (s *AllStrategy) Submit(job Job) bool {
	// Count the job before handing it over so that a Shutdown right after
	// Submit returns still waits for it.
	s.wg.Add(1)
	s.jobs <- job
	return true
}

// Shutdown waits for running jobs to finish, at most timeout.
func (s *AllStrategy) Shutdown(timeout time.Duration) error {
	close(s.jobs)
	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		level.Error(s.logger).Log("msg", "all strategy shutdown timed out", "timeout", timeout)
		return ErrShutdownTimeout
	}
}
