package jamulsoe

import "sync"

// deadlockDetector is the process-wide wait-for graph. waiting maps each
// blocked transaction to the single transaction it waits on (a transaction
// blocks on at most one key at a time, so waiting is a partial function);
// blockerCount is the reverse multiset, counting how many waiters point at
// each blocker. A transaction nobody waits on can never be part of a cycle,
// which lets registerWait skip the chain walk entirely on the common path.
type deadlockDetector struct {
	mu           sync.Mutex
	waiting      map[TxnID]TxnID
	blockerCount map[TxnID]uint32
}

func newDeadlockDetector() *deadlockDetector {
	return &deadlockDetector{
		waiting:      make(map[TxnID]TxnID),
		blockerCount: make(map[TxnID]uint32),
	}
}

// registerWait records that id is about to block on blocker and reports
// whether doing so closes a cycle. The walk follows the wait chain at most
// depth steps; past that a deadlock is conservatively assumed, since holding
// the graph mutex for an unbounded walk is worse than a false positive. On a
// reported deadlock the edge has already been rolled back and the caller must
// not unregister it.
func (d *deadlockDetector) registerWait(id, blocker TxnID, depth int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.waiting[id] = blocker
	d.blockerCount[blocker]++

	if _, ok := d.blockerCount[id]; !ok {
		// Nobody waits on id, so no chain can lead back to it.
		return false
	}

	next := blocker
	for i := int64(0); i < depth; i++ {
		if next == id {
			d.rollbackLocked(id, blocker)
			return true
		}
		b, ok := d.waiting[next]
		if !ok {
			return false
		}
		next = b
	}

	// Depth exhausted without reaching the end of the chain.
	d.rollbackLocked(id, blocker)
	return true
}

// unregisterWait removes the edge recorded by a registerWait that returned
// false. Called on every wait exit: success, timeout, or spurious wake.
func (d *deadlockDetector) unregisterWait(id, blocker TxnID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollbackLocked(id, blocker)
}

func (d *deadlockDetector) rollbackLocked(id, blocker TxnID) {
	delete(d.waiting, id)
	if n, ok := d.blockerCount[blocker]; ok {
		if n <= 1 {
			delete(d.blockerCount, blocker)
		} else {
			d.blockerCount[blocker] = n - 1
		}
	}
}
