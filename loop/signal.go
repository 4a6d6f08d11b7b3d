package loop

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

// ErrSignalUncatchable is returned for signals the OS will not let a
// process trap (e.g. SIGKILL, SIGSTOP).
var ErrSignalUncatchable = errors.New("loop: signal cannot be caught")

// signalDispatcher installs a trampoline: os/signal.Notify delivers on an
// internal channel read by one goroutine, which uses CallSoonThreadsafe to
// schedule the user's callback on the loop — it must never run user code
// directly from signal-handler context, and in Go that constraint is
// automatically satisfied since os/signal delivers on a regular goroutine
// rather than a true signal handler, but the trampoline still exists to
// preserve call_soon's ordering/cancellation contract.
type signalDispatcher struct {
	mu       sync.Mutex
	handlers map[os.Signal]chan os.Signal
}

var uncatchable = map[os.Signal]bool{
	syscall.SIGKILL: true,
	syscall.SIGSTOP: true,
}

// AddSignalHandler installs cb to run (via call_soon) whenever sig is
// delivered to the process. Returns ErrSignalUncatchable for SIGKILL/SIGSTOP.
func (l *Loop) AddSignalHandler(sig os.Signal, cb func()) error {
	if uncatchable[sig] {
		return ErrSignalUncatchable
	}
	l.sigOnce.Do(l.initSignals)

	l.sigMu.Lock()
	defer l.sigMu.Unlock()
	if _, ok := l.sigChans[sig]; ok {
		l.stopSignalLocked(sig)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	l.sigChans[sig] = ch
	go l.signalTrampoline(sig, ch, cb)
	return nil
}

// RemoveSignalHandler restores SIG_DFL handling for sig.
func (l *Loop) RemoveSignalHandler(sig os.Signal) bool {
	l.sigMu.Lock()
	defer l.sigMu.Unlock()
	return l.stopSignalLocked(sig)
}

func (l *Loop) stopSignalLocked(sig os.Signal) bool {
	ch, ok := l.sigChans[sig]
	if !ok {
		return false
	}
	signal.Stop(ch)
	close(ch)
	delete(l.sigChans, sig)
	return true
}

func (l *Loop) signalTrampoline(sig os.Signal, ch chan os.Signal, cb func()) {
	for range ch {
		if l.closed.Load() {
			return
		}
		_, _ = l.CallSoonThreadsafe(cb)
	}
}

func (l *Loop) initSignals() {
	l.sigChans = make(map[os.Signal]chan os.Signal)
}
