package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanMutex_LockUnlock(t *testing.T) {
	m := NewChanMutex()
	require.NoError(t, m.Lock())
	m.Unlock()
	require.NoError(t, m.Lock())
	m.Unlock()
}

func TestChanMutex_TryLockForZeroIsNonBlocking(t *testing.T) {
	m := NewChanMutex()
	require.NoError(t, m.Lock())

	start := time.Now()
	err := m.TryLockFor(0)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	m.Unlock()
	require.NoError(t, m.TryLockFor(0))
	m.Unlock()
}

func TestChanMutex_TryLockForTimesOut(t *testing.T) {
	m := NewChanMutex()
	require.NoError(t, m.Lock())

	start := time.Now()
	err := m.TryLockFor(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	m.Unlock()
}

func TestChanMutex_TryLockForSucceedsOnRelease(t *testing.T) {
	m := NewChanMutex()
	require.NoError(t, m.Lock())

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Unlock()
	}()

	require.NoError(t, m.TryLockFor(time.Second))
	m.Unlock()
}

func TestChanMutex_NegativeTimeoutBlocks(t *testing.T) {
	m := NewChanMutex()
	require.NoError(t, m.Lock())

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Unlock()
	}()

	require.NoError(t, m.TryLockFor(-1))
	m.Unlock()
}

func TestChanMutex_UnlockUnlockedPanics(t *testing.T) {
	m := NewChanMutex()
	assert.Panics(t, func() { m.Unlock() })
}
