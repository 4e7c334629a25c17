package lock

import "time"

// ChanMutex is a Mutex built on a capacity-1 channel: holding the single slot
// means holding the lock, which makes timed acquisition a plain select.
type ChanMutex struct {
	ch chan struct{}
}

// NewChanMutex creates a new, unlocked ChanMutex.
func NewChanMutex() *ChanMutex {
	return &ChanMutex{ch: make(chan struct{}, 1)}
}

var _ Mutex = (*ChanMutex)(nil)

// Lock blocks until the mutex is held. It never fails.
func (m *ChanMutex) Lock() error {
	m.ch <- struct{}{}
	return nil
}

// TryLockFor attempts to acquire the mutex within timeout.
func (m *ChanMutex) TryLockFor(timeout time.Duration) error {
	if timeout < 0 {
		return m.Lock()
	}
	select {
	case m.ch <- struct{}{}:
		return nil
	default:
	}
	if timeout == 0 {
		return ErrTimedOut
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-t.C:
		return ErrTimedOut
	}
}

// Unlock releases the mutex. Unlocking an unheld mutex panics.
func (m *ChanMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("lock: unlock of unlocked ChanMutex")
	}
}
