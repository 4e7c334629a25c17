package jamulsoe

import (
	"sync"

	"go.uber.org/atomic"
)

// mockClock is a manually advanced Clock.
type mockClock struct {
	now atomic.Int64
}

func newMockClock(start int64) *mockClock {
	c := &mockClock{}
	c.now.Store(start)
	return c
}

func (c *mockClock) NowMicros() int64 { return c.now.Load() }

func (c *mockClock) Advance(micros int64) { c.now.Add(micros) }

var _ Clock = (*mockClock)(nil)

// testTxn is a minimal Transaction implementation for tests.
type testTxn struct {
	id             TxnID
	expiration     int64
	timeout        int64
	deadlockDetect bool
	deadlockDepth  int64

	mu         sync.Mutex
	waitingOn  TxnID
	waitingCF  ColumnFamilyID
	waitingKey []byte
}

var _ Transaction = (*testTxn)(nil)

func (t *testTxn) ID() TxnID                  { return t.id }
func (t *testTxn) Expiration() int64          { return t.expiration }
func (t *testTxn) LockTimeout() int64         { return t.timeout }
func (t *testTxn) DeadlockDetect() bool       { return t.deadlockDetect }
func (t *testTxn) DeadlockDetectDepth() int64 { return t.deadlockDepth }

func (t *testTxn) SetWaiting(blocker TxnID, cf ColumnFamilyID, key []byte) {
	t.mu.Lock()
	t.waitingOn, t.waitingCF, t.waitingKey = blocker, cf, key
	t.mu.Unlock()
}

func (t *testTxn) ClearWaiting() {
	t.mu.Lock()
	t.waitingOn, t.waitingCF, t.waitingKey = 0, 0, nil
	t.mu.Unlock()
}

func (t *testTxn) isWaitingOn(id TxnID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitingOn == id
}

// mockTxnStore is a TransactionStore whose steal decisions are scripted per
// transaction. By default every steal is refused.
type mockTxnStore struct {
	mu        sync.Mutex
	stealable map[TxnID]bool
	calls     map[TxnID]int
}

var _ TransactionStore = (*mockTxnStore)(nil)

func newMockTxnStore() *mockTxnStore {
	return &mockTxnStore{
		stealable: make(map[TxnID]bool),
		calls:     make(map[TxnID]int),
	}
}

func (s *mockTxnStore) allowSteal(id TxnID) {
	s.mu.Lock()
	s.stealable[id] = true
	s.mu.Unlock()
}

func (s *mockTxnStore) TryStealExpiredTransactionLocks(id TxnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	return s.stealable[id]
}

func (s *mockTxnStore) stealCalls(id TxnID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// newTestManager builds a manager with the given options and returns the
// concrete type so tests can reach the internals.
func newTestManager(t interface{ Fatalf(string, ...interface{}) }, store TransactionStore, opts ...Option) *lockManagerImpl {
	mgr, err := New(store, nil, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mgr.(*lockManagerImpl)
}
