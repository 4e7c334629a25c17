package jamulsoe

import (
	"sort"

	"github.com/go-kit/log/level"
	json "github.com/goccy/go-json"
)

// GetLockStatus returns a consistent snapshot of every held lock.
//
// Lock order: the registry mutex is held for the whole snapshot, then stripe
// mutexes are taken in ascending column-family and stripe order and only
// released once everything has been copied. Every other operation takes at
// most one stripe mutex at a time, so the ascending protocol cannot deadlock
// against them.
func (m *lockManagerImpl) GetLockStatus() []KeyLockStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfs := make([]ColumnFamilyID, 0, len(m.lockMaps))
	for cf := range m.lockMaps {
		cfs = append(cfs, cf)
	}
	sort.Slice(cfs, func(i, j int) bool { return cfs[i] < cfs[j] })

	var out []KeyLockStatus
	var held []*lockStripe
	for _, cf := range cfs {
		lm := m.lockMaps[cf]
		for _, s := range lm.stripes {
			if err := s.mu.Lock(); err != nil {
				level.Error(m.logger).Log("msg", "stripe mutex failed during snapshot", "cf", cf, "err", err)
				continue
			}
			held = append(held, s)
			for k, li := range s.keys {
				out = append(out, KeyLockStatus{
					ColumnFamily:   cf,
					Key:            k,
					TxnID:          li.txnID,
					ExpirationTime: li.expirationTime,
				})
			}
		}
	}

	for _, s := range held {
		s.mu.Unlock()
	}
	return out
}

// DumpLockStatus renders the snapshot as JSON for operator tooling.
func (m *lockManagerImpl) DumpLockStatus() ([]byte, error) {
	return json.Marshal(m.GetLockStatus())
}
