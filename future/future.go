// Package future implements the single-assignment result cell ported from
// tulip/futures.py's Future (original_source). A
// Future transitions PENDING -> {CANCELLED, FINISHED} exactly once; every
// done-callback runs through the owning Scheduler's call-soon hook, never
// inline from the setter, so callback ordering always matches the owning
// loop's ready-queue FIFO.
package future

import (
	"runtime"
	"sync"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/internal/rlog"
	"go.uber.org/zap"
)

// State is one of the three states a Future can be in.
type State int

const (
	Pending State = iota
	Cancelled
	Finished
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Cancelled:
		return "CANCELLED"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Scheduler is the minimal slice of EventLoop a Future needs: a way to
// schedule a zero-arg callback for "as soon as possible" execution. loop.Loop
// satisfies this.
type Scheduler interface {
	CallSoon(cb func())
}

// Callback receives the Future once it is done.
type Callback func(f *Future)

// Future is a single-assignment result cell with callbacks, cancellation,
// and the awaitable protocol used by the task driver.
type Future struct {
	mu sync.Mutex

	loop  Scheduler
	state State

	result    interface{}
	err       error
	callbacks []cbEntry
	nextTok   uint64

	// blocking is the one-shot "about to be awaited" flag: set by
	// MarkAwaited, cleared by the task driver on consumption. A Future
	// yielded without this flag set is a caller bug.
	blocking bool

	tbLogger *tracebackLogger
}

// tracebackLogger is the exception-never-retrieved diagnostic's sidecar
// object: it owns the exception and logs at GC time if
// neither Result() nor Exception() ever cleared it. It must never hold a
// reference back to the Future, or the two would form a cycle the garbage
// collector can't break.
type tracebackLogger struct {
	err error
}

func (t *tracebackLogger) clear() { t.err = nil }

// New creates a PENDING Future owned by loop. loop may be nil for a Future
// that will never be awaited by a Task (e.g. a value wrapped purely for API
// symmetry); such a Future must not call set_result/set_exception, since
// there would be nowhere to schedule callbacks.
func New(loop Scheduler) *Future {
	return &Future{loop: loop, state: Pending}
}

// State returns the current state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done reports whether the future has left PENDING.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != Pending
}

// Cancelled reports whether the future was cancelled.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == Cancelled
}

// Cancel transitions PENDING -> CANCELLED and schedules callbacks, or
// returns false if the future was already done. Idempotent: a second call
// on an already-cancelled future also returns false.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return false
	}
	f.state = Cancelled
	cbs := f.takeCallbacksLocked()
	f.mu.Unlock()
	f.schedule(cbs)
	return true
}

// Result returns the stored value, or panics-free-raises via error: it
// returns (nil, ErrCancelled) if cancelled, (nil, ErrInvalidState) if still
// pending, or the stored (value, nil)/(nil, err).
func (f *Future) Result() (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case Cancelled:
		return nil, aioerr.ErrCancelled
	case Pending:
		return nil, aioerr.ErrInvalidState
	}
	if f.tbLogger != nil {
		f.tbLogger.clear()
		f.tbLogger = nil
	}
	return f.result, f.err
}

// Exception returns the stored exception (nil if none), or
// (nil, ErrCancelled)/(nil, ErrInvalidState) per the same rules as Result.
func (f *Future) Exception() (error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case Cancelled:
		return nil, aioerr.ErrCancelled
	case Pending:
		return nil, aioerr.ErrInvalidState
	}
	if f.tbLogger != nil {
		f.tbLogger.clear()
		f.tbLogger = nil
	}
	return f.err, nil
}

// SetResult stores v and transitions to FINISHED. Fails with
// ErrInvalidState if the future is not PENDING.
func (f *Future) SetResult(v interface{}) error {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return aioerr.Wrap(aioerr.ErrInvalidState, "SetResult on non-pending future")
	}
	f.state = Finished
	f.result = v
	cbs := f.takeCallbacksLocked()
	f.mu.Unlock()
	f.schedule(cbs)
	return nil
}

// SetException stores err and transitions to FINISHED, arming the
// never-retrieved diagnostic. Fails with ErrInvalidState if not PENDING.
func (f *Future) SetException(err error) error {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return aioerr.Wrap(aioerr.ErrInvalidState, "SetException on non-pending future")
	}
	f.state = Finished
	f.err = err
	tb := &tracebackLogger{err: err}
	f.tbLogger = tb
	runtime.SetFinalizer(tb, func(t *tracebackLogger) {
		if t.err != nil {
			rlog.L().Error("future exception was never retrieved", zap.Error(t.err))
		}
	})
	cbs := f.takeCallbacksLocked()
	f.mu.Unlock()
	f.schedule(cbs)
	return nil
}

// Token identifies a registered done-callback for later removal.
type Token uint64

type cbEntry struct {
	tok Token
	cb  Callback
}

// AddDoneCallback appends cb, or if the future is already done, schedules
// cb(f) immediately via the owning loop. The returned Token can be passed to
// RemoveDoneCallback before the future completes.
func (f *Future) AddDoneCallback(cb Callback) Token {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		f.schedule([]Callback{cb})
		return 0
	}
	f.nextTok++
	tok := Token(f.nextTok)
	f.callbacks = append(f.callbacks, cbEntry{tok: tok, cb: cb})
	f.mu.Unlock()
	return tok
}

// RemoveDoneCallback removes the callback identified by tok, returning 1 if
// it was found and removed, 0 otherwise. Tokens are unique per registration,
// so this always removes at most one callback.
func (f *Future) RemoveDoneCallback(tok Token) int {
	if tok == 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.callbacks {
		if f.callbacks[i].tok == tok {
			f.callbacks = append(f.callbacks[:i], f.callbacks[i+1:]...)
			return 1
		}
	}
	return 0
}

func (f *Future) takeCallbacksLocked() []Callback {
	if len(f.callbacks) == 0 {
		return nil
	}
	cbs := make([]Callback, len(f.callbacks))
	for i, e := range f.callbacks {
		cbs[i] = e.cb
	}
	f.callbacks = nil
	return cbs
}

func (f *Future) schedule(cbs []Callback) {
	if f.loop == nil {
		return
	}
	for _, cb := range cbs {
		cb := cb
		f.loop.CallSoon(func() { cb(f) })
	}
}

// MarkAwaited sets the one-shot "about to be awaited" flag and returns its
// previous value. Yielder.Await calls this before suspending; the task
// driver then clears it with ConsumeAwaited and rejects a yielded Future
// whose flag was not set.
func (f *Future) MarkAwaited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.blocking
	f.blocking = true
	return was
}

// ConsumeAwaited clears the blocking flag and reports whether it was set,
// i.e. whether this Future was properly yielded per the awaitable protocol.
func (f *Future) ConsumeAwaited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.blocking
	f.blocking = false
	return was
}

// Outcome pairs a Future's eventual value with its error, for APIs (like
// as_completed) that hand back completions one at a time over a channel.
type Outcome struct {
	Value interface{}
	Err   error
}

// Loop returns the Scheduler this future is bound to, so the task driver can
// check "owned by the same loop" before treating a yielded value as a real
// suspension point.
func (f *Future) Loop() Scheduler {
	return f.loop
}
