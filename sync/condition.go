package sync

import (
	"container/list"

	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// Condition pairs a Lock with its own waiter queue.
type Condition struct {
	l       *loop.Loop
	lock    *Lock
	waiters list.List // of *future.Future
}

// NewCondition creates a Condition over lock, or a fresh Lock if lock is nil.
func NewCondition(l *loop.Loop, lock *Lock) *Condition {
	if lock == nil {
		lock = NewLock(l)
	}
	return &Condition{l: l, lock: lock}
}

// Lock exposes the underlying Lock so callers can Acquire/Release around
// the protected region, the way a context manager would.
func (c *Condition) Lock() *Lock { return c.lock }

// Wait atomically releases the lock, suspends, and reacquires it before
// returning. Must be called with the lock held.
func (c *Condition) Wait(y *task.Yielder) error {
	fut := future.New(c.l)
	el := c.waiters.PushBack(fut)
	if err := c.lock.Release(); err != nil {
		c.waiters.Remove(el)
		return err
	}
	_, err := y.Await(fut)
	if err != nil {
		c.waiters.Remove(el)
		// best effort: still try to reacquire before propagating cancellation,
		// matching the original's "finally: await self.acquire()" behaviour.
		c.lock.Acquire(y)
		return err
	}
	return c.lock.Acquire(y)
}

// WaitFor loops Wait() until predicate returns true, re-checking under the
// lock each time.
func (c *Condition) WaitFor(y *task.Yielder, predicate func() bool) error {
	for !predicate() {
		if err := c.Wait(y); err != nil {
			return err
		}
	}
	return nil
}

// Notify wakes up to n waiters; they still must reacquire the lock.
func (c *Condition) Notify(n int) {
	for i := 0; i < n; i++ {
		el := c.waiters.Front()
		if el == nil {
			return
		}
		c.waiters.Remove(el)
		el.Value.(*future.Future).SetResult(nil)
	}
}

// NotifyAll wakes every waiter.
func (c *Condition) NotifyAll() {
	c.Notify(c.waiters.Len())
}
