package jamulsoe

import (
	"github.com/zeebo/xxh3"
	"go.uber.org/atomic"

	"github.com/mrchypark/jamulsoe/pkg/lock"
)

// lockInfo is the record stored under a locked key.
type lockInfo struct {
	txnID TxnID
	// expirationTime is absolute microseconds; 0 means the lock never expires.
	expirationTime int64
}

// lockStripe is one shard of a column family's lock table. The keys map is
// only read or mutated while mu is held; cv multiplexes every waiter whose
// key hashes to this stripe, so wake-ups are always broadcast.
type lockStripe struct {
	mu   lock.Mutex
	cv   lock.CondVar
	keys map[string]lockInfo
}

func newLockStripe(f lock.Factory) *lockStripe {
	return &lockStripe{
		mu:   f.NewMutex(),
		cv:   f.NewCondVar(),
		keys: make(map[string]lockInfo),
	}
}

// lockMap is the lock table of a single column family: a fixed array of
// stripes plus the count of held locks, maintained only when a lock cap is
// configured.
type lockMap struct {
	stripes   []*lockStripe
	lockCount atomic.Int64
}

func newLockMap(stripes int, f lock.Factory) *lockMap {
	lm := &lockMap{stripes: make([]*lockStripe, stripes)}
	for i := range lm.stripes {
		lm.stripes[i] = newLockStripe(f)
	}
	return lm
}

// stripeIndex maps a key to its stripe. xxh3 is deterministic within a
// process, so a key always lands on the same stripe.
func (lm *lockMap) stripeIndex(key []byte) int {
	return int(xxh3.Hash(key) % uint64(len(lm.stripes)))
}

func (lm *lockMap) stripeFor(key []byte) *lockStripe {
	return lm.stripes[lm.stripeIndex(key)]
}
