package jamulsoe

import (
	"context"
	"time"

	"github.com/go-kit/log/level"

	"github.com/mrchypark/jamulsoe/internal/worker"
)

// sweeper periodically erases lock records whose holders the transaction
// store confirms as expired, so waiters wake as soon as a lock dies instead
// of sitting out their full timeout. Sweeping is release-equivalent: records
// are erased, never handed to another transaction.
type sweeper struct {
	m        *lockManagerImpl
	worker   *worker.Manager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newSweeper(m *lockManagerImpl, w *worker.Manager, interval time.Duration) *sweeper {
	return &sweeper{
		m:        m,
		worker:   w,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (sw *sweeper) start() {
	go func() {
		defer close(sw.doneCh)
		t := time.NewTicker(sw.interval)
		defer t.Stop()
		for {
			select {
			case <-sw.stopCh:
				return
			case <-t.C:
				if !sw.worker.Submit(func(ctx context.Context) { sw.m.sweepExpired() }) {
					level.Warn(sw.m.logger).Log("msg", "sweep job dropped, worker queue full")
				}
			}
		}
	}()
}

func (sw *sweeper) stop(timeout time.Duration) error {
	close(sw.stopCh)
	<-sw.doneCh
	return sw.worker.Shutdown(timeout)
}

// sweepExpired walks every registered lock map and erases records whose
// clock expiration has passed and whose steal the store confirms. Returns
// how many records were erased.
func (m *lockManagerImpl) sweepExpired() int {
	m.mu.Lock()
	type cfMap struct {
		cf ColumnFamilyID
		lm *lockMap
	}
	maps := make([]cfMap, 0, len(m.lockMaps))
	for cf, lm := range m.lockMaps {
		maps = append(maps, cfMap{cf, lm})
	}
	m.mu.Unlock()

	removed := 0
	for _, e := range maps {
		for _, s := range e.lm.stripes {
			if err := s.mu.Lock(); err != nil {
				level.Error(m.logger).Log("msg", "stripe mutex failed during sweep", "cf", e.cf, "err", err)
				continue
			}
			erased := 0
			now := m.clock.NowMicros()
			for k, li := range s.keys {
				if li.expirationTime <= 0 || li.expirationTime > now {
					continue
				}
				if !m.store.TryStealExpiredTransactionLocks(li.txnID) {
					continue
				}
				delete(s.keys, k)
				if m.maxNumLocks > 0 {
					e.lm.lockCount.Dec()
				}
				erased++
			}
			s.mu.Unlock()
			if erased > 0 {
				s.cv.NotifyAll()
				removed += erased
			}
		}
	}

	if removed > 0 {
		level.Debug(m.logger).Log("msg", "expired locks swept", "removed", removed)
	}
	return removed
}
