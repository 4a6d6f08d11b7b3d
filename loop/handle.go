package loop

import (
	"go.uber.org/atomic"

	"github.com/xtaci/aiogo/clock"
	"github.com/xtaci/aiogo/internal/rlog"
	"go.uber.org/zap"
)

// Handle is a scheduled callback: (callable, cancelled) from spec's Data
// Model. Created by CallSoon/CallLater/CallAt; immutable apart from
// Cancel(), and dropped from its queue once dispatched.
type Handle struct {
	cb        func()
	cancelled atomic.Bool
}

func newHandle(cb func()) *Handle {
	return &Handle{cb: cb}
}

// Cancel marks the handle so the loop skips it when popped.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

func (h *Handle) run() {
	if h.cancelled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			rlog.L().Error("callback panicked", zap.Any("recover", r))
		}
	}()
	h.cb()
}

// TimerHandle is a Handle plus an absolute monotonic deadline, ordered by
// deadline (earlier first, ties by insertion order) while it lives in the
// loop's timer heap.
type TimerHandle struct {
	*Handle
	when  clock.Time
	seq   uint64
	index int // heap index, maintained by container/heap
}

// When returns the absolute deadline this timer fires at.
func (t *TimerHandle) When() clock.Time { return t.when }
