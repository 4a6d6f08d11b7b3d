package sync

import (
	"container/list"

	xsemaphore "golang.org/x/sync/semaphore"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// Semaphore is an unbounded, FIFO-fair counting semaphore: acquire
// decrements or parks, release increments and wakes one waiter. A plain int
// counter suffices since, unlike BoundedSemaphore, it never needs to reject
// an over-release.
type Semaphore struct {
	l       *loop.Loop
	value   int
	waiters list.List // of *future.Future
}

// NewSemaphore creates a Semaphore starting with value permits available.
func NewSemaphore(l *loop.Loop, value int) *Semaphore {
	return &Semaphore{l: l, value: value}
}

// Acquire decrements the counter, or parks until a permit is released.
func (s *Semaphore) Acquire(y *task.Yielder) error {
	if s.waiters.Len() == 0 && s.value > 0 {
		s.value--
		return nil
	}
	fut := future.New(s.l)
	el := s.waiters.PushBack(fut)
	_, err := y.Await(fut)
	if err != nil {
		s.waiters.Remove(el)
		return err
	}
	return nil
}

// Release increments the counter and resolves one waiter if any is parked.
func (s *Semaphore) Release() {
	if el := s.waiters.Front(); el != nil {
		s.waiters.Remove(el)
		el.Value.(*future.Future).SetResult(nil)
		return
	}
	s.value++
}

// Locked reports whether the next Acquire would have to park.
func (s *Semaphore) Locked() bool { return s.value == 0 || s.waiters.Len() > 0 }

// BoundedSemaphore is the bounded variant that fails on over-release. The
// bound accounting is delegated to golang.org/x/sync/semaphore.Weighted,
// whose Release panics once the internal counter would exceed the
// configured capacity, recovered here and turned into
// ErrSemaphoreOverRelease. Actual parking still goes through
// this package's own waiter FIFO rather than Weighted's blocking Acquire,
// since a goroutine genuinely blocked inside Weighted.Acquire would stall
// the owning Task's cooperative step instead of suspending through it.
type BoundedSemaphore struct {
	l       *loop.Loop
	w       *xsemaphore.Weighted
	waiters list.List // of *future.Future
}

// NewBoundedSemaphore creates a BoundedSemaphore with bound permits, all
// initially available.
func NewBoundedSemaphore(l *loop.Loop, bound int) *BoundedSemaphore {
	return &BoundedSemaphore{l: l, w: xsemaphore.NewWeighted(int64(bound))}
}

// Acquire decrements the counter, or parks until a permit is released.
func (s *BoundedSemaphore) Acquire(y *task.Yielder) error {
	if s.waiters.Len() == 0 && s.w.TryAcquire(1) {
		return nil
	}
	fut := future.New(s.l)
	el := s.waiters.PushBack(fut)
	_, err := y.Await(fut)
	if err != nil {
		s.waiters.Remove(el)
		return err
	}
	return nil
}

// Release increments the counter and resolves one waiter if any is parked,
// returning ErrSemaphoreOverRelease if this would exceed the configured
// bound.
func (s *BoundedSemaphore) Release() (err error) {
	if el := s.waiters.Front(); el != nil {
		s.waiters.Remove(el)
		el.Value.(*future.Future).SetResult(nil)
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = aioerr.ErrSemaphoreOverRelease
		}
	}()
	s.w.Release(1)
	return nil
}
