//go:build race

package jamulsoe

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestManager_Chaos_RaceCondition is a chaotic test designed to be run with
// the -race flag. It concurrently performs random lock, unlock, batch-unlock
// and snapshot operations, with a column family being added and removed
// underneath, to uncover potential data races under high contention.
func TestManager_Chaos_RaceCondition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping chaos test in short mode")
	}

	store := newMockTxnStore()
	m := newTestManager(t, store, WithStripes(8))
	defer m.Close()
	require.NoError(t, m.AddColumnFamily(1))
	require.NoError(t, m.AddColumnFamily(2))

	const numKeys = 50
	var keys [][]byte
	for i := 0; i < numKeys; i++ {
		keys = append(keys, []byte(fmt.Sprintf("chaos-key-%d", i)))
	}

	const numGoroutines = 16
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(goroutineID int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(goroutineID)))
			txn := &testTxn{id: TxnID(goroutineID + 1), timeout: 5_000}

			for j := 0; j < 200; j++ {
				key := keys[r.Intn(len(keys))]
				cf := ColumnFamilyID(1 + r.Intn(2))

				switch r.Intn(4) {
				case 0, 1: // lock then unlock
					if err := m.TryLock(txn, cf, key); err == nil {
						m.Unlock(txn, cf, key)
					}
				case 2: // batch
					a, b := keys[r.Intn(len(keys))], keys[r.Intn(len(keys))]
					if m.TryLock(txn, cf, a) == nil {
						if m.TryLock(txn, cf, b) == nil {
							m.UnlockBatch(txn, map[ColumnFamilyID][][]byte{cf: {a, b}})
						} else {
							m.Unlock(txn, cf, a)
						}
					}
				case 3: // snapshot
					_ = m.GetLockStatus()
				}
			}
		}(i)
	}

	// A third column family flaps while the others are hammered.
	flapDone := make(chan struct{})
	go func() {
		defer close(flapDone)
		flapper := &testTxn{id: 99, timeout: 0}
		for i := 0; i < 50; i++ {
			if m.AddColumnFamily(3) == nil {
				_ = m.TryLock(flapper, 3, []byte("flap"))
				m.RemoveColumnFamily(3)
			}
		}
	}()

	wg.Wait()
	<-flapDone
}
