package placeholder

import (
	"sync"
	"sync/atomic"
)

// Lock is the registry lock together with the condition variable that
// resolutions wait on for each other.
type Lock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	waits atomic.Int64
}

// NewLock creates the registry lock.
func NewLock() *Lock {
	l := &Lock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Lock acquires the registry lock.
func (l *Lock) Lock() { l.mu.Lock() }

// Unlock releases the registry lock.
func (l *Lock) Unlock() { l.mu.Unlock() }

// NotifyAll wakes every waiter. Callers hold the lock.
func (l *Lock) NotifyAll() { l.cond.Broadcast() }

// Wait blocks until the next NotifyAll. The caller holds the lock and
// holds it again on return; table state must be rechecked.
//
// With an external lock the order is: release every recursion of the
// external lock, wait, drop the registry lock, reacquire the external
// lock, then reacquire the registry lock. The registry lock is never held
// while blocking on the external lock.
func (l *Lock) Wait(t *Thread, external ExternalLock) {
	l.waits.Add(1)
	if external == nil {
		l.cond.Wait()
		return
	}
	recursions := external.CompleteExit(t)
	l.cond.Wait()
	l.mu.Unlock()
	external.Reenter(t, recursions)
	l.mu.Lock()
}

// Waits returns how many times Wait was called.
func (l *Lock) Waits() int64 {
	return l.waits.Load()
}
