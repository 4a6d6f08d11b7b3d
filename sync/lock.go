// Package sync implements cooperative synchronization primitives, every one
// of them a FIFO of waiter Futures living on the loop. Grounded on
// tulip/locks.py (original_source) for the semantics, and on package
// future/task for the waiter plumbing already established elsewhere in the
// runtime.
package sync

import (
	"container/list"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// Lock is an exclusive, non-reentrant lock.
type Lock struct {
	l       *loop.Loop
	locked  bool
	waiters list.List // of *future.Future
}

// NewLock returns an unlocked Lock.
func NewLock(l *loop.Loop) *Lock { return &Lock{l: l} }

// Acquire returns immediately if the lock is free, otherwise parks until it
// is released to this waiter.
func (m *Lock) Acquire(y *task.Yielder) error {
	if !m.locked {
		m.locked = true
		return nil
	}
	fut := future.New(m.l)
	el := m.waiters.PushBack(fut)
	_, err := y.Await(fut)
	if err != nil {
		m.waiters.Remove(el)
		return err
	}
	m.locked = true
	return nil
}

// Release wakes the head waiter, or marks the lock free if none are
// waiting.
func (m *Lock) Release() error {
	if !m.locked {
		return aioerr.Wrapf(aioerr.ErrInvalidState, "release of an unlocked Lock")
	}
	if el := m.waiters.Front(); el != nil {
		m.waiters.Remove(el)
		el.Value.(*future.Future).SetResult(nil)
		return nil
	}
	m.locked = false
	return nil
}

// Locked reports whether the lock is currently held.
func (m *Lock) Locked() bool { return m.locked }

// WithLock acquires m, runs fn, and releases m on every exit path, the way
// a scope guard would.
func (m *Lock) WithLock(y *task.Yielder, fn func() error) error {
	if err := m.Acquire(y); err != nil {
		return err
	}
	defer m.Release()
	return fn()
}
