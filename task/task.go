// Package task implements the coroutine driver. Coroutines are modeled as
// stackful fibers: each Task runs its user function on its own goroutine
// and hands control back and forth with the driver over a pair of
// unbuffered channels, so that at any instant exactly one of {the loop
// goroutine, one coroutine goroutine} is actually executing — a cooperative,
// single-logical-thread illusion without a custom bytecode interpreter.
package task

import (
	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
)

// Yielder is the handle a coroutine function uses to suspend itself. It is
// only ever touched from inside the coroutine's own goroutine.
type Yielder struct {
	t *Task
}

// Await suspends the coroutine until fut completes, returning its result or
// error. Go has no generator yield, so Await plays that role: it marks fut
// as properly awaited and parks until the driver resumes us.
func (y *Yielder) Await(fut *future.Future) (interface{}, error) {
	fut.MarkAwaited()
	return y.t.suspend(fut)
}

// Yield surrenders control to the scheduler for one loop iteration without
// waiting on anything in particular.
func (y *Yielder) Yield() {
	y.t.suspend(nil)
}

// CoroFunc is a coroutine body: it receives a Yielder to suspend itself and
// returns its final value or error — no StopIteration-style sentinel needed,
// since a coroutine body simply returns.
type CoroFunc func(y *Yielder) (interface{}, error)

// resumeMsg is what the driver sends into the coroutine goroutine to wake it.
type resumeMsg struct {
	value interface{}
	err   error
}

// yieldMsg is what the coroutine goroutine sends back: either a suspension
// request (fut, possibly nil for "yield to scheduler") or a final outcome.
type yieldMsg struct {
	// suspend-with-future case
	awaiting *future.Future
	yielding bool // true if this is a "yield to scheduler" (awaiting == nil, not done)

	// terminal case
	done  bool
	value interface{}
	err   error
}

// Task extends Future with a coroutine; composition stands in for
// inheritance here.
type Task struct {
	*future.Future

	l    *loop.Loop
	body CoroFunc

	toCoro   chan resumeMsg
	fromCoro chan yieldMsg

	futWaiter *future.Future
	waiterTok future.Token
	mustCancel bool
	started    bool
}

// New creates a Task that schedules its first step on the next loop
// iteration.
func New(l *loop.Loop, body CoroFunc) *Task {
	t := &Task{
		Future:   l.NewFuture(),
		l:        l,
		body:     body,
		toCoro:   make(chan resumeMsg),
		fromCoro: make(chan yieldMsg),
	}
	l.CallSoon(func() { t.step(nil, nil) })
	return t
}

// suspend is called from inside the coroutine goroutine: it reports the
// yielded value to the driver and blocks until resumed.
func (t *Task) suspend(fut *future.Future) (interface{}, error) {
	if fut == nil {
		t.fromCoro <- yieldMsg{yielding: true}
	} else {
		t.fromCoro <- yieldMsg{awaiting: fut}
	}
	msg := <-t.toCoro
	return msg.value, msg.err
}

func (t *Task) runBody() {
	first := <-t.toCoro
	if first.err != nil {
		t.fromCoro <- yieldMsg{done: true, err: first.err}
		return
	}
	y := &Yielder{t: t}
	v, err := t.body(y)
	t.fromCoro <- yieldMsg{done: true, value: v, err: err}
}

// step resumes the coroutine with value or exc and drives it until it
// either suspends again or finishes.
func (t *Task) step(value interface{}, exc error) {
	if t.Done() {
		return
	}
	if t.mustCancel {
		t.mustCancel = false
		exc = aioerr.ErrCancelled
	}

	if !t.started {
		t.started = true
		go t.runBody()
	}
	t.toCoro <- resumeMsg{value: value, err: exc}
	out := <-t.fromCoro

	switch {
	case out.done:
		t.finish(out.value, out.err)
	case out.yielding:
		t.l.CallSoon(func() { t.step(nil, nil) })
	case out.awaiting != nil:
		t.attachWaiter(out.awaiting)
	}
}

func (t *Task) finish(value interface{}, err error) {
	if err == nil {
		t.Future.SetResult(value)
		return
	}
	if err == aioerr.ErrCancelled {
		t.Future.Cancel()
		return
	}
	t.Future.SetException(err)
}

func (t *Task) attachWaiter(fut *future.Future) {
	// Reject a Future not owned by the same loop, or yielded without the
	// awaitable "blocking" flag set.
	if lp, ok := fut.Loop().(*loop.Loop); fut.Loop() != nil && (!ok || lp != t.l) {
		t.l.CallSoon(func() {
			t.step(nil, aioerr.Wrapf(aioerr.ErrInvalidState, "task awaited a future from a different loop"))
		})
		return
	}
	if !fut.ConsumeAwaited() {
		t.l.CallSoon(func() {
			t.step(nil, aioerr.Wrapf(aioerr.ErrInvalidState, "yielded a future without the awaitable marker"))
		})
		return
	}
	t.futWaiter = fut
	t.waiterTok = fut.AddDoneCallback(func(f *future.Future) {
		t.wakeup(f)
	})
}

func (t *Task) wakeup(fut *future.Future) {
	t.futWaiter = nil
	t.waiterTok = 0
	v, err := fut.Result()
	t.step(v, err)
}

// Cancel overrides Future.Cancel: it first tries to cancel the Future this
// task is currently awaiting; only if that fails (or there is none) does it
// set must_cancel for the next step to honour.
func (t *Task) Cancel() bool {
	if t.Done() {
		return false
	}
	if t.futWaiter != nil {
		if t.futWaiter.Cancel() {
			return true
		}
	}
	t.mustCancel = true
	return true
}
