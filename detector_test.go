package jamulsoe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_NoCycleWhenNobodyWaitsOnRequester(t *testing.T) {
	d := newDeadlockDetector()

	assert.False(t, d.registerWait(1, 2, 10))

	d.mu.Lock()
	assert.Equal(t, TxnID(2), d.waiting[1])
	assert.Equal(t, uint32(1), d.blockerCount[2])
	d.mu.Unlock()

	d.unregisterWait(1, 2)
	d.mu.Lock()
	assert.Empty(t, d.waiting)
	assert.Empty(t, d.blockerCount)
	d.mu.Unlock()
}

func TestDetector_TwoNodeCycle(t *testing.T) {
	d := newDeadlockDetector()

	require.False(t, d.registerWait(1, 2, 10))
	assert.True(t, d.registerWait(2, 1, 10))

	// The cycle-closing edge was rolled back; the first edge remains.
	d.mu.Lock()
	assert.Equal(t, map[TxnID]TxnID{1: 2}, d.waiting)
	assert.Equal(t, map[TxnID]uint32{2: 1}, d.blockerCount)
	d.mu.Unlock()
}

func TestDetector_ThreeNodeCycle(t *testing.T) {
	d := newDeadlockDetector()

	require.False(t, d.registerWait(1, 2, 10))
	require.False(t, d.registerWait(2, 3, 10))
	assert.True(t, d.registerWait(3, 1, 10))
}

func TestDetector_ChainWithoutCycle(t *testing.T) {
	d := newDeadlockDetector()

	require.False(t, d.registerWait(1, 2, 10))
	require.False(t, d.registerWait(2, 3, 10))
	// 4 -> 1 -> 2 -> 3 has no way back to 4.
	assert.False(t, d.registerWait(4, 1, 10))
}

func TestDetector_DepthExhaustedIsConservative(t *testing.T) {
	d := newDeadlockDetector()

	// Chain 2 -> 3 -> 4 -> 5, then 1 -> 2 with someone waiting on 1 but a
	// search depth too small to reach the chain's end.
	require.False(t, d.registerWait(2, 3, 10))
	require.False(t, d.registerWait(3, 4, 10))
	require.False(t, d.registerWait(4, 5, 10))
	require.False(t, d.registerWait(6, 1, 10))

	assert.True(t, d.registerWait(1, 2, 2))

	// With enough depth the same edge is fine.
	assert.False(t, d.registerWait(1, 2, 10))
}

func TestDetector_RefcountAcrossSharedBlocker(t *testing.T) {
	d := newDeadlockDetector()

	require.False(t, d.registerWait(1, 9, 10))
	require.False(t, d.registerWait(2, 9, 10))
	require.False(t, d.registerWait(3, 9, 10))

	d.mu.Lock()
	assert.Equal(t, uint32(3), d.blockerCount[9])
	d.mu.Unlock()

	d.unregisterWait(2, 9)
	d.mu.Lock()
	assert.Equal(t, uint32(2), d.blockerCount[9])
	d.mu.Unlock()

	d.unregisterWait(1, 9)
	d.unregisterWait(3, 9)
	d.mu.Lock()
	assert.Empty(t, d.blockerCount)
	assert.Empty(t, d.waiting)
	d.mu.Unlock()
}
