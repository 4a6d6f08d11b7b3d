package task

import (
	"time"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
)

// Sleep returns a Future resolved with value after delay, driven purely by
// CallLater — no Task involved.
func Sleep(l *loop.Loop, delay time.Duration, value interface{}) *future.Future {
	fut := l.NewFuture()
	l.CallLater(delay, func() {
		_ = fut.SetResult(value)
	})
	return fut
}

// ReturnWhen selects Wait's termination policy.
type ReturnWhen int

const (
	AllCompleted ReturnWhen = iota
	FirstCompleted
	FirstException
)

// Wait attaches a done-callback to each future that decrements a counter
// and, per returnWhen, resolves a gating Future once satisfied; the overall
// timeout cancels the *gate* itself, leaving every child future running, so
// callers can tell "gate timed out" apart from "gate resolved with
// everything it was waiting for" by checking the gate's own cancellation.
// Rejects an empty slice immediately.
func Wait(l *loop.Loop, futs []*future.Future, timeout time.Duration, returnWhen ReturnWhen) *future.Future {
	gate := l.NewFuture()
	if len(futs) == 0 {
		gate.SetException(aioerr.Wrapf(aioerr.ErrInvalidState, "wait() called with an empty future set"))
		return gate
	}

	remaining := len(futs)
	var timer *loop.TimerHandle
	finish := func() {
		if timer != nil {
			timer.Cancel()
		}
		_ = gate.SetResult(futs)
	}

	for _, f := range futs {
		f := f
		f.AddDoneCallback(func(done *future.Future) {
			if gate.Done() {
				return
			}
			remaining--
			switch returnWhen {
			case FirstCompleted:
				finish()
			case FirstException:
				storedExc, callErr := done.Exception()
				if callErr == nil && storedExc != nil {
					finish()
					return
				}
				if remaining == 0 {
					finish()
				}
			default: // AllCompleted
				if remaining == 0 {
					finish()
				}
			}
		})
	}

	if timeout > 0 {
		timer = l.CallLater(timeout, func() {
			if !gate.Done() {
				gate.Cancel()
			}
		})
	}
	return gate
}

// WaitFor awaits fut, cancelling it and raising ErrTimeout if it does not
// complete within timeout. A timeout<=0 with an already-done fut returns
// without scheduling a timeout.
func WaitFor(y *Yielder, l *loop.Loop, fut *future.Future, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		if fut.Done() {
			return y.Await(fut)
		}
	}

	var timer *loop.TimerHandle
	if timeout > 0 {
		timer = l.CallLater(timeout, func() {
			fut.Cancel()
		})
	}
	v, err := y.Await(fut)
	if timer != nil {
		timer.Cancel()
	}
	if err == aioerr.ErrCancelled {
		return nil, aioerr.Wrap(aioerr.ErrTimeout, "wait_for deadline exceeded")
	}
	return v, err
}

// AsCompleted returns a receive-only channel that yields each future's
// result/error pair in completion order, closed once every future has been
// delivered.
func AsCompleted(futs []*future.Future) <-chan future.Outcome {
	out := make(chan future.Outcome, len(futs))
	remaining := int32(len(futs))
	if remaining == 0 {
		close(out)
		return out
	}
	for _, f := range futs {
		f := f
		f.AddDoneCallback(func(done *future.Future) {
			v, err := outcomeOf(done)
			out <- future.Outcome{Value: v, Err: err}
			remaining--
			if remaining == 0 {
				close(out)
			}
		})
	}
	return out
}

func outcomeOf(f *future.Future) (interface{}, error) {
	if f.Cancelled() {
		return nil, aioerr.ErrCancelled
	}
	return f.Result()
}

// Gather aggregates results from futs in input order. Without
// returnExceptions, the first exception cancels the remaining siblings and
// propagates as this Future's exception.
func Gather(l *loop.Loop, futs []*future.Future, returnExceptions bool) *future.Future {
	out := l.NewFuture()
	if len(futs) == 0 {
		out.SetResult([]interface{}{})
		return out
	}
	results := make([]interface{}, len(futs))
	remaining := len(futs)
	failed := false

	for i, f := range futs {
		i, f := i, f
		f.AddDoneCallback(func(done *future.Future) {
			if out.Done() {
				return
			}
			v, err := outcomeOf(done)
			if err != nil && !returnExceptions {
				failed = true
				for j, sib := range futs {
					if j != i {
						sib.Cancel()
					}
				}
				out.SetException(err)
				return
			}
			if err != nil {
				results[i] = err
			} else {
				results[i] = v
			}
			remaining--
			if remaining == 0 && !failed {
				out.SetResult(results)
			}
		})
	}
	return out
}

// Shield wraps fut so that cancelling the returned Future does not cancel
// fut itself; cancellation of fut still propagates out through the wrapper.
func Shield(l *loop.Loop, fut *future.Future) *future.Future {
	outer := l.NewFuture()
	fut.AddDoneCallback(func(done *future.Future) {
		if outer.Done() {
			return
		}
		if done.Cancelled() {
			outer.Cancel()
			return
		}
		v, err := done.Result()
		if err != nil {
			outer.SetException(err)
		} else {
			outer.SetResult(v)
		}
	})
	return outer
}
