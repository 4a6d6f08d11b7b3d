// Package loop implements the event loop core: a ready-queue of Handles, a
// timer min-heap of TimerHandles, a selector (package selector) for FD
// readiness, and a self-pipe used to wake a blocked selector from another
// goroutine via CallSoonThreadsafe. This is the engine xtaci/gaio's
// watcher.loop() plays the analogous role for, generalized from gaio's
// fixed read/write-pair dispatch into a full call_soon / call_later /
// call_at / add_reader / add_writer surface.
package loop

import (
	"container/heap"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/clock"
	"github.com/xtaci/aiogo/internal/rlog"
	"github.com/xtaci/aiogo/selector"
)

// ExceptionHandler receives a structured context for an error that
// surfaced from a scheduled callback rather than through a Future.
type ExceptionHandler func(ctx map[string]interface{})

// fdWatch tracks the reader/writer Handles registered for one fd.
type fdWatch struct {
	reader *Handle
	writer *Handle
}

// Loop is the event loop core.
type Loop struct {
	sel selector.Selector

	// mu guards everything the loop goroutine and CallSoonThreadsafe both
	// touch. The loop's own goroutine otherwise runs single-threaded.
	mu        sync.Mutex
	ready     []*Handle
	timers    timerHeap
	timerSeq  uint64
	fds       map[int]*fdWatch
	closed    atomic.Bool
	running   atomic.Bool
	stopFlag  atomic.Bool
	excHandle ExceptionHandler

	internalFDs atomic.Int64

	selfPipeR *os.File
	selfPipeW *os.File

	sigOnce  sync.Once
	sigMu    sync.Mutex
	sigChans map[os.Signal]chan os.Signal
}

// New creates a Loop with a fresh platform selector.
func New() (*Loop, error) {
	sel, err := selector.New()
	if err != nil {
		return nil, aioerr.Wrap(err, "create selector")
	}
	l := &Loop{
		sel: sel,
		fds: make(map[int]*fdWatch),
	}
	r, w, err := os.Pipe()
	if err != nil {
		sel.Close()
		return nil, aioerr.Wrap(err, "create self-pipe")
	}
	l.selfPipeR = r
	l.selfPipeW = w
	if err := setNonblock(r); err != nil {
		r.Close()
		w.Close()
		sel.Close()
		return nil, err
	}
	if err := setNonblock(w); err != nil {
		r.Close()
		w.Close()
		sel.Close()
		return nil, err
	}
	if err := l.sel.Register(int(r.Fd()), selector.Read, nil); err != nil {
		r.Close()
		w.Close()
		sel.Close()
		return nil, err
	}
	l.internalFDs.Store(1)
	return l, nil
}

// Time returns the current monotonic instant.
func (l *Loop) Time() clock.Time { return clock.Now() }

// CallSoon appends cb to the ready-queue, to run in a later iteration of
// the loop's own goroutine. Must only be called from the loop's goroutine
// or before it starts; cross-thread callers must use CallSoonThreadsafe.
func (l *Loop) CallSoon(cb func()) *Handle {
	h := newHandle(cb)
	l.mu.Lock()
	l.ready = append(l.ready, h)
	l.mu.Unlock()
	return h
}

// CallLater schedules cb to run no earlier than delay from now.
func (l *Loop) CallLater(delay time.Duration, cb func()) *TimerHandle {
	return l.CallAt(clock.Now().Add(delay), cb)
}

// CallAt schedules cb to run no earlier than the absolute instant when.
func (l *Loop) CallAt(when clock.Time, cb func()) *TimerHandle {
	h := newHandle(cb)
	l.mu.Lock()
	l.timerSeq++
	th := &TimerHandle{Handle: h, when: when, seq: l.timerSeq}
	heap.Push(&l.timers, th)
	l.mu.Unlock()
	return th
}

// CallSoonThreadsafe is the only entry point legal from a goroutine other
// than the loop's own. It appends to the ready-queue and writes one byte
// to the self-pipe so a Select(blocking) call wakes up within one
// iteration.
func (l *Loop) CallSoonThreadsafe(cb func()) (*Handle, error) {
	if l.closed.Load() {
		return nil, aioerr.ErrLoopClosed
	}
	h := newHandle(cb)
	l.mu.Lock()
	l.ready = append(l.ready, h)
	l.mu.Unlock()
	l.wakeSelfPipe()
	return h, nil
}

// wakeSelfPipe is best-effort: EAGAIN (pipe full of pending wake bytes) is
// fine, since the loop will wake up and drain regardless.
func (l *Loop) wakeSelfPipe() {
	_, err := l.selfPipeW.Write([]byte{0})
	if err != nil && !isWouldBlock(err) {
		rlog.L().Debug("self-pipe write failed", zap.Error(err))
	}
}

// AddReader registers cb to run whenever fd becomes readable. Only one
// reader may be registered per fd at a time.
func (l *Loop) AddReader(fd int, cb func()) error {
	return l.addWatch(fd, selector.Read, cb)
}

// AddWriter is the write-interest analogue of AddReader.
func (l *Loop) AddWriter(fd int, cb func()) error {
	return l.addWatch(fd, selector.Write, cb)
}

func (l *Loop) addWatch(fd int, which selector.Events, cb func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.fds[fd]
	if !ok {
		w = &fdWatch{}
		l.fds[fd] = w
	}
	h := newHandle(cb)
	var events selector.Events
	if w.reader != nil {
		events |= selector.Read
	}
	if w.writer != nil {
		events |= selector.Write
	}
	events |= which
	if which == selector.Read {
		w.reader = h
	} else {
		w.writer = h
	}
	return l.registerOrModify(fd, events)
}

func (l *Loop) registerOrModify(fd int, events selector.Events) error {
	_, _, err := l.sel.Info(fd)
	if err == nil {
		return l.sel.Modify(fd, events, fd)
	}
	return l.sel.Register(fd, events, fd)
}

// RemoveReader cancels fd's reader, returning whether one was registered.
func (l *Loop) RemoveReader(fd int) bool {
	return l.removeWatch(fd, selector.Read)
}

// RemoveWriter cancels fd's writer, returning whether one was registered.
func (l *Loop) RemoveWriter(fd int) bool {
	return l.removeWatch(fd, selector.Write)
}

func (l *Loop) removeWatch(fd int, which selector.Events) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.fds[fd]
	if !ok {
		return false
	}
	var had bool
	if which == selector.Read && w.reader != nil {
		w.reader.Cancel()
		w.reader = nil
		had = true
	}
	if which == selector.Write && w.writer != nil {
		w.writer.Cancel()
		w.writer = nil
		had = true
	}
	if !had {
		return false
	}
	var remaining selector.Events
	if w.reader != nil {
		remaining |= selector.Read
	}
	if w.writer != nil {
		remaining |= selector.Write
	}
	if remaining == 0 {
		delete(l.fds, fd)
		_ = l.sel.Unregister(fd)
	} else {
		_ = l.sel.Modify(fd, remaining, fd)
	}
	return true
}

// SetExceptionHandler installs the loop's pluggable exception handler. nil
// restores the structured-log default.
func (l *Loop) SetExceptionHandler(h ExceptionHandler) {
	l.mu.Lock()
	l.excHandle = h
	l.mu.Unlock()
}

// CallExceptionHandler routes ctx to the installed handler, or the default
// structured-log formatter (grounded on original_source tulip/events.py's
// default_exception_handler).
func (l *Loop) CallExceptionHandler(ctx map[string]interface{}) {
	l.mu.Lock()
	h := l.excHandle
	l.mu.Unlock()
	if h != nil {
		h(ctx)
		return
	}
	fields := make([]zap.Field, 0, len(ctx))
	for k, v := range ctx {
		fields = append(fields, zap.Any(k, v))
	}
	rlog.L().Error("unhandled loop exception", fields...)
}

// IsRunning reports whether RunForever/RunUntilComplete is currently
// driving this loop.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Stop requests that RunForever return after finishing the current
// iteration.
func (l *Loop) Stop() { l.stopFlag.Store(true) }

// Close releases the selector and self-pipe. Not safe to call while running.
func (l *Loop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.selfPipeR.Close()
	l.selfPipeW.Close()
	return l.sel.Close()
}

// RunForever drives iterations until Stop() is called.
func (l *Loop) RunForever() error {
	if !l.running.CompareAndSwap(false, true) {
		return aioerr.ErrLoopRunning
	}
	defer l.running.Store(false)
	l.stopFlag.Store(false)
	for !l.stopFlag.Load() {
		if err := l.runOnce(); err != nil {
			return err
		}
	}
	return nil
}

// RunUntilComplete runs the loop until done is closed and then returns nil,
// or returns ErrStoppedBeforeDone if Stop ends the loop first. It takes a
// channel rather than a Future: it does not wrap a coroutine in a Task and
// does not return the awaited work's result or exception.
func (l *Loop) RunUntilComplete(done <-chan struct{}) error {
	if !l.running.CompareAndSwap(false, true) {
		return aioerr.ErrLoopRunning
	}
	defer l.running.Store(false)
	l.stopFlag.Store(false)
	for !l.stopFlag.Load() {
		select {
		case <-done:
			return nil
		default:
		}
		if err := l.runOnce(); err != nil {
			return err
		}
		select {
		case <-done:
			return nil
		default:
		}
	}
	return aioerr.ErrStoppedBeforeDone
}

// runOnce drains expired timers and the ready queue for a single iteration.
func (l *Loop) runOnce() error {
	now := clock.Now()

	// Step 1: move expired timers onto the ready queue.
	l.mu.Lock()
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.when.After(now) {
			break
		}
		heap.Pop(&l.timers)
		if top.Cancelled() {
			continue
		}
		l.ready = append(l.ready, top.Handle)
	}

	// Step 2: compute the selector timeout.
	var timeout time.Duration
	if len(l.ready) > 0 {
		timeout = 0
	} else if l.timers.Len() > 0 {
		timeout = l.timers[0].when.Until()
		if timeout < 0 {
			timeout = 0
		}
	} else {
		timeout = -1
	}
	l.mu.Unlock()

	// Step 3: poll the selector.
	readies, err := l.sel.Select(timeout)
	if err != nil {
		return aioerr.Wrap(err, "selector poll failed")
	}

	l.mu.Lock()
	for _, r := range readies {
		if r.FD == int(l.selfPipeR.Fd()) {
			l.drainSelfPipeLocked()
			continue
		}
		w, ok := l.fds[r.FD]
		if !ok {
			continue
		}
		if r.Events.Has(selector.Read) {
			if w.reader != nil {
				if !w.reader.Cancelled() {
					l.ready = append(l.ready, w.reader)
				} else {
					l.removeWatchLocked(r.FD, selector.Read)
				}
			}
		}
		if r.Events.Has(selector.Write) {
			if w.writer != nil {
				if !w.writer.Cancelled() {
					l.ready = append(l.ready, w.writer)
				} else {
					l.removeWatchLocked(r.FD, selector.Write)
				}
			}
		}
	}

	// Step 4: drain exactly the prefix that existed at the start of this
	// step; anything enqueued during dispatch runs next iteration.
	batch := l.ready
	l.ready = nil
	l.mu.Unlock()

	for _, h := range batch {
		h.run()
	}
	return nil
}

func (l *Loop) removeWatchLocked(fd int, which selector.Events) {
	l.mu.Unlock()
	l.removeWatch(fd, which)
	l.mu.Lock()
}

func (l *Loop) drainSelfPipeLocked() {
	l.mu.Unlock()
	buf := make([]byte, 64)
	for {
		n, err := l.selfPipeR.Read(buf)
		if n == 0 || err != nil {
			if err != nil && err != io.EOF && !isWouldBlock(err) {
				rlog.L().Debug("self-pipe read error", zap.Error(err))
			}
			break
		}
		if n < len(buf) {
			break
		}
	}
	l.mu.Lock()
}
