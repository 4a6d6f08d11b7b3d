// Package aioerr defines the sentinel error taxonomy shared by every layer
// of the runtime (loop, future, task, transport, stream) and a couple of
// small wrapping helpers built on github.com/pkg/errors so call sites can
// attach context without losing sentinel identity.
package aioerr

import "github.com/pkg/errors"

// Sentinels shared by every layer's error taxonomy. Compare with errors.Is,
// never with ==, since every call site is expected to wrap these with
// context via Wrap/Wrapf.
var (
	// ErrCancelled signals cooperative termination of a Future or Task.
	ErrCancelled = errors.New("aiogo: cancelled")
	// ErrInvalidState signals misuse of a Future (set twice, or read before done).
	ErrInvalidState = errors.New("aiogo: invalid future state")
	// ErrTimeout is produced by WaitFor and time-limited Wait.
	ErrTimeout = errors.New("aiogo: timeout")
	// ErrLoopClosed is returned by entry points called after Close.
	ErrLoopClosed = errors.New("aiogo: event loop closed")
	// ErrLoopRunning is returned when RunForever/RunUntilComplete is called
	// on a loop that is already running.
	ErrLoopRunning = errors.New("aiogo: event loop already running")
	// ErrStoppedBeforeDone is raised by RunUntilComplete when Stop() fires
	// before the awaited future resolves.
	ErrStoppedBeforeDone = errors.New("aiogo: event loop stopped before future completed")

	// ErrTransportClosed covers writes/reads against a closed transport.
	ErrTransportClosed = errors.New("aiogo: transport closed")
	// ErrConnectionReset mirrors a peer RST.
	ErrConnectionReset = errors.New("aiogo: connection reset by peer")
	// ErrConnectionRefused mirrors ECONNREFUSED (datagram transports).
	ErrConnectionRefused = errors.New("aiogo: connection refused")
	// ErrConnectionAborted mirrors a locally aborted connection.
	ErrConnectionAborted = errors.New("aiogo: connection aborted")
	// ErrBrokenPipe mirrors EPIPE on a write.
	ErrBrokenPipe = errors.New("aiogo: broken pipe")

	// ErrLineTooLong is raised by the line parser/reader when a line exceeds
	// its configured limit before the delimiter is seen.
	ErrLineTooLong = errors.New("aiogo: line too long")
	// ErrIncompleteRead is raised by ReadExactly/readexactly on EOF before n
	// bytes were seen; carries the partial read via IncompleteReadError.
	ErrIncompleteRead = errors.New("aiogo: incomplete read")

	// ErrEmptyBuffer mirrors gaio's ErrEmptyBuffer: Write() with no bytes.
	ErrEmptyBuffer = errors.New("aiogo: empty buffer")
	// ErrUnsupported is returned when a transport can't be derived from a net.Conn.
	ErrUnsupported = errors.New("aiogo: unsupported conn type")
	// ErrWatcherClosed is returned by calls into a shut-down selector watcher.
	ErrWatcherClosed = errors.New("aiogo: watcher closed")

	// ErrFull / ErrEmpty are raised by the non-blocking Queue variants.
	ErrFull  = errors.New("aiogo: queue full")
	ErrEmpty = errors.New("aiogo: queue empty")

	// ErrSemaphoreOverRelease is raised by the bounded Semaphore on release
	// past its initial value.
	ErrSemaphoreOverRelease = errors.New("aiogo: semaphore released too many times")

	// ErrEofStream is thrown into an attached parser coroutine to signal
	// upstream EOF.
	ErrEofStream = errors.New("aiogo: eof stream")
)

// Wrap attaches call-site context to err while preserving errors.Is/Cause
// compatibility with the sentinel chain. No-op on a nil err.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// IncompleteReadError carries the bytes actually read before EOF, the way
// StreamReader.readexactly does in the original.
type IncompleteReadError struct {
	Partial  []byte
	Expected int
}

func (e *IncompleteReadError) Error() string {
	return errors.Wrapf(ErrIncompleteRead, "got %d of %d bytes", len(e.Partial), e.Expected).Error()
}

func (e *IncompleteReadError) Unwrap() error { return ErrIncompleteRead }

// LineTooLongError carries how many bytes were scanned before giving up.
type LineTooLongError struct {
	Limit int
}

func (e *LineTooLongError) Error() string {
	return errors.Wrapf(ErrLineTooLong, "limit %d", e.Limit).Error()
}

func (e *LineTooLongError) Unwrap() error { return ErrLineTooLong }
