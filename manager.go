package jamulsoe

import (
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/mrchypark/jamulsoe/internal/worker"
	"github.com/mrchypark/jamulsoe/pkg/lock"
)

// lockManagerImpl is the concrete LockManager.
type lockManagerImpl struct {
	logger  log.Logger
	store   TransactionStore
	clock   Clock
	factory lock.Factory

	stripes     int
	maxNumLocks int64

	// mu guards lockMaps. It is the outermost lock: the hot path avoids it
	// entirely through the lookup cache, and only GetLockStatus blocks while
	// holding it (on the stripe mutexes, in ascending order).
	mu       sync.Mutex
	lockMaps map[ColumnFamilyID]*lockMap

	cache    lockMapCache
	detector *deadlockDetector

	sweeper         *sweeper
	shutdownTimeout time.Duration
	closed          atomic.Bool
}

// Compile-time check that lockManagerImpl satisfies the LockManager interface.
var _ LockManager = (*lockManagerImpl)(nil)

// New creates a lock manager bound to the given transaction store.
// If logger is nil, logging is disabled.
func New(store TransactionStore, logger log.Logger, opts ...Option) (LockManager, error) {
	if store == nil {
		return nil, &ConfigError{"transaction store is required"}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	cfg := Config{
		Stripes:          16,
		MutexFactory:     lock.NewChanFactory(),
		Clock:            SystemClock{},
		WorkerStrategy:   "pool",
		WorkerPoolSize:   1,
		WorkerQueueSize:  16,
		WorkerJobTimeout: 30 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	m := &lockManagerImpl{
		logger:          logger,
		store:           store,
		clock:           cfg.Clock,
		factory:         cfg.MutexFactory,
		stripes:         cfg.Stripes,
		maxNumLocks:     cfg.MaxNumLocks,
		lockMaps:        make(map[ColumnFamilyID]*lockMap),
		detector:        newDeadlockDetector(),
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	if cfg.SweepInterval > 0 {
		workerManager, err := worker.NewManager(cfg.WorkerStrategy, logger, cfg.WorkerPoolSize, cfg.WorkerQueueSize, cfg.WorkerJobTimeout)
		if err != nil {
			return nil, err
		}
		m.sweeper = newSweeper(m, workerManager, cfg.SweepInterval)
		m.sweeper.start()
	}

	level.Info(logger).Log("msg", "lock manager initialized",
		"stripes", cfg.Stripes, "max_num_locks", cfg.MaxNumLocks, "sweep_interval", cfg.SweepInterval)
	return m, nil
}

// AddColumnFamily registers a lock table for cf.
func (m *lockManagerImpl) AddColumnFamily(cf ColumnFamilyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lockMaps[cf]; ok {
		return ErrColumnFamilyExists
	}
	m.lockMaps[cf] = newLockMap(m.stripes, m.factory)
	level.Debug(m.logger).Log("msg", "column family registered", "cf", cf)
	return nil
}

// RemoveColumnFamily drops the lock table for cf and invalidates the lookup
// cache. In-flight operations keep using their reference until they return.
func (m *lockManagerImpl) RemoveColumnFamily(cf ColumnFamilyID) {
	m.mu.Lock()
	delete(m.lockMaps, cf)
	m.cache.invalidate(cf)
	m.mu.Unlock()
	level.Debug(m.logger).Log("msg", "column family removed", "cf", cf)
}

// getLockMap resolves cf through the lookup cache, falling back to the
// registry. Cache population happens under the registry mutex so it cannot
// race a concurrent RemoveColumnFamily into resurrecting a dropped entry.
func (m *lockManagerImpl) getLockMap(cf ColumnFamilyID) *lockMap {
	if lm := m.cache.get(cf); lm != nil {
		return lm
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.lockMaps[cf]
	if !ok {
		return nil
	}
	m.cache.put(cf, lm)
	return lm
}

// TryLock acquires an exclusive lock on key for txn.
func (m *lockManagerImpl) TryLock(txn Transaction, cf ColumnFamilyID, key []byte) error {
	lm := m.getLockMap(cf)
	if lm == nil {
		return ErrColumnFamilyNotFound
	}
	s := lm.stripeFor(key)
	return m.acquireWithTimeout(txn, lm, s, cf, key, txn.LockTimeout())
}

// acquireWithTimeout implements the wait loop: take the stripe mutex, attempt
// the acquire, and on contention park on the stripe's condition variable
// until the deadline, the holder's expiration, or a release broadcast. The
// stripe mutex is held on every attempt and released on every exit path.
func (m *lockManagerImpl) acquireWithTimeout(txn Transaction, lm *lockMap, s *lockStripe, cf ColumnFamilyID, key []byte, timeout int64) error {
	var err error
	if timeout < 0 {
		err = s.mu.Lock()
	} else {
		err = s.mu.TryLockFor(time.Duration(timeout) * time.Microsecond)
	}
	if err != nil {
		if errors.Is(err, lock.ErrTimedOut) {
			return ErrLockTimeout
		}
		return err
	}

	var end int64
	if timeout > 0 {
		end = m.clock.NowMicros() + timeout
	}

	id := txn.ID()
	ret, waitID, expireHint := m.acquireLocked(lm, s, id, txn.Expiration(), key)

	for errors.Is(ret, ErrLockTimeout) && timeout != 0 {
		// Wake at whichever comes first: our own deadline or the moment the
		// holder's lock becomes stealable.
		cvEnd := int64(-1)
		switch {
		case expireHint > 0 && end > 0:
			cvEnd = min(expireHint, end)
		case expireHint > 0:
			cvEnd = expireHint
		case end > 0:
			cvEnd = end
		}

		if waitID != 0 {
			if txn.DeadlockDetect() {
				if m.detector.registerWait(id, waitID, txn.DeadlockDetectDepth()) {
					s.mu.Unlock()
					level.Debug(m.logger).Log("msg", "deadlock detected", "txn", id, "blocker", waitID, "cf", cf)
					return ErrDeadlock
				}
			}
			txn.SetWaiting(waitID, cf, key)
		}

		var werr error
		if cvEnd < 0 {
			werr = s.cv.Wait(s.mu)
		} else {
			d := time.Duration(cvEnd-m.clock.NowMicros()) * time.Microsecond
			if d < 0 {
				d = 0
			}
			werr = s.cv.WaitFor(s.mu, d)
		}

		if waitID != 0 {
			txn.ClearWaiting()
			if txn.DeadlockDetect() {
				m.detector.unregisterWait(id, waitID)
			}
		}

		if werr != nil && !errors.Is(werr, lock.ErrTimedOut) {
			ret = werr
			break
		}

		// Even past the deadline the lock may just have expired and nobody
		// signalled us, so always make one more attempt before giving up.
		deadlinePassed := end > 0 && m.clock.NowMicros() >= end
		ret, waitID, expireHint = m.acquireLocked(lm, s, id, txn.Expiration(), key)
		if errors.Is(ret, ErrLockTimeout) && deadlinePassed {
			break
		}
	}

	s.mu.Unlock()
	return ret
}

// acquireLocked performs a single acquire attempt. The caller holds the
// stripe mutex. On contention it returns ErrLockTimeout together with the
// current holder and, when the holder's lock is not yet ripe for stealing,
// the expiration time the waiter can wake at.
func (m *lockManagerImpl) acquireLocked(lm *lockMap, s *lockStripe, id TxnID, txnExpiration int64, key []byte) (ret error, waitID TxnID, expireHint int64) {
	k := string(key)
	if li, ok := s.keys[k]; ok {
		if li.txnID == id {
			// Re-entrant on the same transaction; refresh the expiration.
			s.keys[k] = lockInfo{txnID: id, expirationTime: txnExpiration}
			return nil, 0, 0
		}

		now := m.clock.NowMicros()
		expired := li.expirationTime > 0 && li.expirationTime <= now
		if expired && m.store.TryStealExpiredTransactionLocks(li.txnID) {
			// The store confirmed the holder abandoned its locks; take over.
			// The number of held locks is unchanged.
			s.keys[k] = lockInfo{txnID: id, expirationTime: txnExpiration}
			level.Debug(m.logger).Log("msg", "expired lock stolen", "key", k, "from", li.txnID, "to", id)
			return nil, 0, 0
		}
		if !expired {
			expireHint = li.expirationTime
		}
		return ErrLockTimeout, li.txnID, expireHint
	}

	if m.maxNumLocks > 0 {
		if lm.lockCount.Load() >= m.maxNumLocks {
			return ErrLockLimit, 0, 0
		}
		lm.lockCount.Inc()
	}
	s.keys[k] = lockInfo{txnID: id, expirationTime: txnExpiration}
	return nil, 0, 0
}

// Unlock releases txn's lock on key and wakes the stripe's waiters.
func (m *lockManagerImpl) Unlock(txn Transaction, cf ColumnFamilyID, key []byte) {
	lm := m.getLockMap(cf)
	if lm == nil {
		// Column family was dropped; nothing left to release.
		return
	}
	s := lm.stripeFor(key)

	if err := s.mu.Lock(); err != nil {
		level.Error(m.logger).Log("msg", "stripe mutex failed during unlock", "cf", cf, "err", err)
		return
	}
	m.unlockKeyLocked(lm, s, txn.ID(), string(key))
	s.mu.Unlock()

	// Broadcast: waiters on other keys share this stripe's condition variable.
	s.cv.NotifyAll()
}

// UnlockBatch releases many keys, bucketing them by stripe so each stripe
// mutex is taken once. Used on commit and abort.
func (m *lockManagerImpl) UnlockBatch(txn Transaction, keys map[ColumnFamilyID][][]byte) {
	id := txn.ID()
	for cf, cfKeys := range keys {
		lm := m.getLockMap(cf)
		if lm == nil {
			continue
		}

		byStripe := make(map[int][]string)
		for _, key := range cfKeys {
			idx := lm.stripeIndex(key)
			byStripe[idx] = append(byStripe[idx], string(key))
		}

		for idx, stripeKeys := range byStripe {
			s := lm.stripes[idx]
			if err := s.mu.Lock(); err != nil {
				level.Error(m.logger).Log("msg", "stripe mutex failed during batch unlock", "cf", cf, "err", err)
				continue
			}
			for _, k := range stripeKeys {
				m.unlockKeyLocked(lm, s, id, k)
			}
			s.mu.Unlock()
			s.cv.NotifyAll()
		}
	}
}

// unlockKeyLocked erases the record if txn holds it. The caller holds the
// stripe mutex. A missing or foreign record means the lock expired and was
// stolen, which is not an error for the releaser.
func (m *lockManagerImpl) unlockKeyLocked(lm *lockMap, s *lockStripe, id TxnID, k string) {
	li, ok := s.keys[k]
	if !ok || li.txnID != id {
		level.Debug(m.logger).Log("msg", "unlock of lock not held, holder expired", "txn", id, "key", k)
		return
	}
	delete(s.keys, k)
	if m.maxNumLocks > 0 {
		lm.lockCount.Dec()
	}
}

// Close stops background work. It is idempotent.
func (m *lockManagerImpl) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if m.sweeper != nil {
		err = m.sweeper.stop(m.shutdownTimeout)
	}
	level.Info(m.logger).Log("msg", "lock manager closed")
	return err
}
