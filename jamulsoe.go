// Package jamulsoe implements the pessimistic lock manager used by a
// transactional key-value storage engine. It arbitrates exclusive access to
// user keys across concurrent transactions, with per-transaction lock
// timeouts, lock expiration (so a crashed or stalled transaction cannot block
// progress forever), and online deadlock detection over a global wait-for
// graph.
//
// Each column family owns a lock table split into a fixed number of stripes;
// a stripe is a mutex, a condition variable and a key-to-record map, so
// unrelated keys contend only on their stripe. Deadlock detection is global:
// every blocked acquisition by a transaction with deadlock detection enabled
// registers a wait-for edge and walks the chain up to the transaction's
// configured depth before parking on the stripe's condition variable.
//
// The manager does not own transactions. It consumes the Transaction and
// TransactionStore contracts below and reports failures through the sentinel
// errors in this file.
package jamulsoe

import (
	"errors"
	"time"
)

// ErrColumnFamilyNotFound is returned by TryLock when the column family has
// not been registered (or has been removed).
var ErrColumnFamilyNotFound = errors.New("jamulsoe: column family not registered")

// ErrLockTimeout is returned when a lock could not be acquired within the
// transaction's lock timeout.
var ErrLockTimeout = errors.New("jamulsoe: lock acquisition timed out")

// ErrLockLimit is returned when acquiring a new lock would exceed the
// per-column-family lock cap configured with WithMaxNumLocks.
var ErrLockLimit = errors.New("jamulsoe: column family lock limit reached")

// ErrDeadlock is returned when registering the wait would close a cycle in
// the wait-for graph. Beyond the transaction's detection depth the search is
// conservative, so a deadlock may be reported for a chain that is merely
// long; callers must treat it as genuine and re-drive.
var ErrDeadlock = errors.New("jamulsoe: deadlock detected")

// ErrColumnFamilyExists is returned by AddColumnFamily for a duplicate
// registration, which is a programming error in the caller.
var ErrColumnFamilyExists = errors.New("jamulsoe: column family already registered")

// TxnID identifies a transaction. The zero value is reserved and never a
// valid transaction.
type TxnID uint64

// ColumnFamilyID identifies a column family (a named keyspace with its own
// lock table).
type ColumnFamilyID uint32

// Transaction is the lock manager's view of a transaction. Implementations
// belong to the transaction layer; only read access plus the waiting-on slot
// is required here.
type Transaction interface {
	// ID returns the transaction's nonzero identifier.
	ID() TxnID

	// Expiration returns the absolute time in microseconds at which the
	// transaction's locks become stealable, or 0 for no expiration.
	Expiration() int64

	// LockTimeout returns how long a single TryLock may block, in
	// microseconds. Negative waits indefinitely; zero tries exactly once.
	LockTimeout() int64

	// DeadlockDetect reports whether blocked acquisitions should consult the
	// deadlock detector before waiting.
	DeadlockDetect() bool

	// DeadlockDetectDepth bounds the wait-for chain walk for this
	// transaction. Past the bound a deadlock is conservatively assumed.
	DeadlockDetectDepth() int64

	// SetWaiting publishes which transaction, column family and key this
	// transaction is currently blocked on, for operator inspection.
	SetWaiting(blocker TxnID, cf ColumnFamilyID, key []byte)

	// ClearWaiting clears the waiting-on slot.
	ClearWaiting()
}

// TransactionStore is the transaction database the manager belongs to. It is
// the sole authority on whether an apparently expired holder has really
// abandoned its locks: the clock test alone never justifies a steal.
type TransactionStore interface {
	// TryStealExpiredTransactionLocks returns true only when the transaction
	// is confirmed expired or abandoned and its locks may be taken over.
	TryStealExpiredTransactionLocks(id TxnID) bool
}

// Clock supplies the time base for lock timeouts and expiration, in
// microseconds since an arbitrary epoch. It need not be strictly monotonic
// across goroutines.
type Clock interface {
	NowMicros() int64
}

// SystemClock is the default Clock, backed by the wall clock.
type SystemClock struct{}

// NowMicros returns the current wall time in microseconds.
func (SystemClock) NowMicros() int64 { return time.Now().UnixMicro() }

var _ Clock = SystemClock{}

// KeyLockStatus is one held lock in a GetLockStatus snapshot.
type KeyLockStatus struct {
	ColumnFamily ColumnFamilyID `json:"cf"`
	Key          string         `json:"key"`
	TxnID        TxnID          `json:"txn_id"`
	// ExpirationTime is the holder's absolute expiration in microseconds,
	// 0 when the lock never expires.
	ExpirationTime int64 `json:"expiration_time,omitempty"`
}

// LockManager arbitrates exclusive key locks across transactions.
type LockManager interface {
	// AddColumnFamily registers a lock table for cf. Registering a column
	// family twice returns ErrColumnFamilyExists.
	AddColumnFamily(cf ColumnFamilyID) error

	// RemoveColumnFamily drops the lock table for cf. Operations already in
	// flight on the table finish on their own reference; later lookups fail
	// with ErrColumnFamilyNotFound.
	RemoveColumnFamily(cf ColumnFamilyID)

	// TryLock acquires an exclusive lock on key for txn, blocking up to the
	// transaction's lock timeout. Re-acquiring a key the transaction already
	// holds succeeds immediately.
	TryLock(txn Transaction, cf ColumnFamilyID, key []byte) error

	// Unlock releases txn's lock on key. Releasing a key the transaction no
	// longer holds is a no-op (the only legitimate cause is that the lock
	// expired and was stolen).
	Unlock(txn Transaction, cf ColumnFamilyID, key []byte)

	// UnlockBatch releases many keys at once, taking each stripe mutex only
	// once. Intended for commit and abort paths.
	UnlockBatch(txn Transaction, keys map[ColumnFamilyID][][]byte)

	// GetLockStatus returns a consistent snapshot of every held lock.
	// Acquisition and release on the affected column families stall for the
	// duration; snapshots are operator-driven and rare.
	GetLockStatus() []KeyLockStatus

	// DumpLockStatus renders GetLockStatus as JSON.
	DumpLockStatus() ([]byte, error)

	// Close stops background work. It is idempotent.
	Close() error
}
