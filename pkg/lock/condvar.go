package lock

import (
	"sync"
	"time"
)

// ChanCondVar is a broadcast condition variable with timed waits. One
// generation of waiters shares a channel; NotifyAll closes it and installs a
// fresh one, so every waiter blocked on the old generation observes the close.
//
// The generation channel is snapshotted while the caller still holds the
// paired Mutex, so a notification between releasing the mutex and parking on
// the channel is never lost.
type ChanCondVar struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewChanCondVar creates a new ChanCondVar.
func NewChanCondVar() *ChanCondVar {
	return &ChanCondVar{ch: make(chan struct{})}
}

var _ CondVar = (*ChanCondVar)(nil)

// Wait releases m, blocks until the next NotifyAll, then reacquires m.
func (c *ChanCondVar) Wait(m Mutex) error {
	return c.WaitFor(m, -1)
}

// WaitFor releases m and blocks until the next NotifyAll or until timeout
// elapses, whichever comes first, then reacquires m.
func (c *ChanCondVar) WaitFor(m Mutex, timeout time.Duration) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()

	m.Unlock()

	var werr error
	if timeout < 0 {
		<-ch
	} else {
		t := time.NewTimer(timeout)
		select {
		case <-ch:
		case <-t.C:
			werr = ErrTimedOut
		}
		t.Stop()
	}

	if err := m.Lock(); err != nil {
		return err
	}
	return werr
}

// NotifyAll wakes every goroutine blocked in Wait or WaitFor.
func (c *ChanCondVar) NotifyAll() {
	c.mu.Lock()
	close(c.ch)
	c.ch = make(chan struct{})
	c.mu.Unlock()
}
