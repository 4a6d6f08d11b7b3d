package sync

import (
	"container/list"

	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// Event is a sticky flag with waiters.
type Event struct {
	l       *loop.Loop
	set     bool
	waiters list.List // of *future.Future
}

// NewEvent returns a cleared Event.
func NewEvent(l *loop.Loop) *Event { return &Event{l: l} }

// IsSet reports the current flag value.
func (e *Event) IsSet() bool { return e.set }

// Wait returns immediately if already set, otherwise parks until Set.
func (e *Event) Wait(y *task.Yielder) error {
	if e.set {
		return nil
	}
	fut := future.New(e.l)
	el := e.waiters.PushBack(fut)
	_, err := y.Await(fut)
	if err != nil {
		e.waiters.Remove(el)
		return err
	}
	return nil
}

// Set flips the flag and wakes every waiter, emptying the waiter queue.
func (e *Event) Set() {
	if e.set {
		return
	}
	e.set = true
	for el := e.waiters.Front(); el != nil; el = el.Next() {
		el.Value.(*future.Future).SetResult(nil)
	}
	e.waiters.Init()
}

// Clear resets the flag.
func (e *Event) Clear() { e.set = false }
