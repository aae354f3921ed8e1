package machine

import (
	"runtime"
	"sync/atomic"
)

// A Spinlock is a busy-waiting mutual exclusion primitive. The holder must
// never block or sleep while holding it.
type Spinlock struct {
	held atomic.Bool
}

// Acquire spins until the lock is taken.
func (l *Spinlock) Acquire() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// Release gives the lock up. Releasing a free lock is a kernel bug.
func (l *Spinlock) Release() {
	if !l.held.CompareAndSwap(true, false) {
		panic("spinlock released while not held")
	}
}

// Held tells if somebody holds the lock.
func (l *Spinlock) Held() bool {
	return l.held.Load()
}
