// Package spinlock implements a compact reader/writer spin lock meant to be
// embedded directly inside a node of a larger structure, where one lock per
// node must stay cheap in both footprint and acquisition cost.
//
// Unlike sync.RWMutex, RW never parks a goroutine on a semaphore: callers
// that cannot immediately take the lock yield the processor and retry. This
// is the right tradeoff here because the critical sections protected by an
// RW are short -- a handful of pointer reads or writes -- and numerous: a
// single structural edit touches several of these locks in sequence, so the
// overhead of a full mutex per node would dominate. RW is not reentrant and
// makes no fairness guarantee between readers and writers.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// writerBit marks the lock as held (or about to be held) for exclusive
// access. The remaining bits of state count active readers.
const writerBit uint32 = 1 << 31

const readerMask uint32 = writerBit - 1

// RW is a reader/writer spin lock packed into a single uint32. The zero
// value is an unlocked RW.
type RW struct {
	state uint32
}

// RLock blocks until no writer holds or is waiting for the lock, then
// registers the caller as an active reader.
func (l *RW) RLock() {
	for {
		s := atomic.LoadUint32(&l.state)
		if s&writerBit != 0 {
			runtime.Gosched()
			continue
		}
		if atomic.CompareAndSwapUint32(&l.state, s, s+1) {
			return
		}
	}
}

// RUnlock releases one reader registration.
func (l *RW) RUnlock() {
	atomic.AddUint32(&l.state, ^uint32(0))
}

// Lock sets the writer bit -- blocking out new readers -- then waits for any
// readers already in the critical section to drain before returning.
func (l *RW) Lock() {
	for {
		s := atomic.LoadUint32(&l.state)
		if s&writerBit != 0 {
			runtime.Gosched()
			continue
		}
		if atomic.CompareAndSwapUint32(&l.state, s, s|writerBit) {
			break
		}
	}
	for atomic.LoadUint32(&l.state)&readerMask != 0 {
		runtime.Gosched()
	}
}

// Unlock releases the writer bit.
func (l *RW) Unlock() {
	atomic.StoreUint32(&l.state, 0)
}

// TryLock attempts to acquire the lock for exclusive access without
// blocking. It only succeeds when the lock is completely free (no readers,
// no writer), since draining existing readers would require blocking.
func (l *RW) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, writerBit)
}

// Readers reports the number of active readers. Intended for tests and
// invariant assertions, not for synchronization decisions.
func (l *RW) Readers() int {
	return int(atomic.LoadUint32(&l.state) & readerMask)
}

// WriteLocked reports whether a writer currently holds (or is draining
// into) the lock. Intended for tests and invariant assertions.
func (l *RW) WriteLocked() bool {
	return atomic.LoadUint32(&l.state)&writerBit != 0
}
