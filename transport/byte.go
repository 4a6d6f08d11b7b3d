package transport

import (
	"net"
	"sync"
	"syscall"

	"go.uber.org/atomic"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/internal/rlog"
	"github.com/xtaci/aiogo/loop"
	"go.uber.org/zap"
)

// rawConn is the slice of net.Conn ByteTransport needs to get at the
// underlying fd, mirrored from xtaci/gaio's dupconn() in aio_generic.go.
type rawConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// dupFD duplicates conn's file descriptor the way gaio's dupconn does, so
// the transport owns an fd independent of net.Conn's lifetime/finalizer.
func dupFD(conn net.Conn) (int, error) {
	rc, ok := conn.(rawConn)
	if !ok {
		return -1, aioerr.ErrUnsupported
	}
	sc, err := rc.SyscallConn()
	if err != nil {
		return -1, aioerr.Wrap(err, "syscall conn")
	}
	var newfd int
	var dupErr error
	cerr := sc.Control(func(fd uintptr) {
		newfd, dupErr = syscall.Dup(int(fd))
	})
	if cerr != nil {
		return -1, cerr
	}
	if dupErr != nil {
		return -1, dupErr
	}
	return newfd, nil
}

// ByteTransport is the selector-driven byte-stream transport,
// grounded on gaio's tryRead (watcher.go) but restructured around
// continuous Protocol callbacks instead of one-shot completions: registers
// a persistent reader that feeds protocol.DataReceived on every readable
// wakeup, and a write buffer that drains through a writer registered only
// while bytes are pending, exactly like gaio's descs[fd].writers queue
// collapsed to a single in-flight buffer per fd (the byte transport owns
// its fd exclusively, unlike gaio's shared watcher).
type ByteTransport struct {
	l    *loop.Loop
	fd   int
	conn net.Conn
	proto Protocol

	mu       sync.Mutex
	writeBuf [][]byte
	closing  atomic.Bool
	connLost atomic.Int32
	paused   bool
	writerOn bool

	high, low int
}

// NewByteTransport duplicates conn's fd, registers a reader, and invokes
// protocol.ConnectionMade before returning.
func NewByteTransport(l *loop.Loop, conn net.Conn, proto Protocol) (*ByteTransport, error) {
	fd, err := dupFD(conn)
	if err != nil {
		return nil, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, aioerr.Wrap(err, "set nonblocking")
	}
	t := &ByteTransport{
		l: l, fd: fd, conn: conn, proto: proto,
		high: DefaultHighWatermark, low: DefaultLowWatermark,
	}
	if err := l.AddReader(fd, t.onReadable); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	proto.ConnectionMade(t)
	return t, nil
}

// onReadable drains one readable wakeup: recv, feed DataReceived, translate
// an empty read into EOFReceived, retry on EINTR, return on EAGAIN, force-close on
// ECONNRESET, fatal-close on any other error.
func (t *ByteTransport) onReadable() {
	buf := make([]byte, 64*1024)
	for {
		n, err := syscall.Read(t.fd, buf)
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN {
			return
		}
		if err != nil {
			if err == syscall.ECONNRESET {
				t.forceClose(aioerr.Wrap(aioerr.ErrConnectionReset, err.Error()))
				return
			}
			t.forceClose(aioerr.Wrap(err, "read"))
			return
		}
		if n == 0 {
			keep := t.proto.EOFReceived()
			if !keep {
				t.Close()
			}
			return
		}
		t.proto.DataReceived(buf[:n])
		return
	}
}

// Write buffers data for send. If the connection is already closing or
// lost, bytes are silently dropped (after a warning threshold, matching
// gaio's deliver-or-drop discipline).
func (t *ByteTransport) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if t.closing.Load() || t.connLost.Load() > 0 {
		if t.connLost.Load() > 0 && t.connLost.Add(1) == 5 {
			rlog.L().Warn("write to closing/lost transport after threshold", zap.Int("fd", t.fd))
		}
		return nil
	}

	t.mu.Lock()
	if len(t.writeBuf) == 0 {
		t.mu.Unlock()
		sent, err := t.trySend(data)
		if err != nil {
			t.forceClose(err)
			return err
		}
		if sent == len(data) {
			return nil
		}
		t.mu.Lock()
		t.writeBuf = append(t.writeBuf, data[sent:])
		t.maybeRegisterWriterLocked()
		t.maybePauseLocked()
		t.mu.Unlock()
		return nil
	}
	t.writeBuf = append(t.writeBuf, data)
	t.maybeRegisterWriterLocked()
	t.maybePauseLocked()
	t.mu.Unlock()
	return nil
}

func (t *ByteTransport) trySend(data []byte) (int, error) {
	sent := 0
	for sent < len(data) {
		n, err := syscall.Write(t.fd, data[sent:])
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN {
			return sent, nil
		}
		if err != nil {
			switch err {
			case syscall.EPIPE:
				return sent, aioerr.Wrap(aioerr.ErrBrokenPipe, err.Error())
			case syscall.ECONNRESET:
				return sent, aioerr.Wrap(aioerr.ErrConnectionReset, err.Error())
			default:
				return sent, aioerr.Wrap(err, "write")
			}
		}
		sent += n
	}
	return sent, nil
}

func (t *ByteTransport) maybeRegisterWriterLocked() {
	if t.writerOn || len(t.writeBuf) == 0 {
		return
	}
	t.writerOn = true
	_ = t.l.AddWriter(t.fd, t.onWritable)
}

func (t *ByteTransport) maybePauseLocked() {
	total := 0
	for _, c := range t.writeBuf {
		total += len(c)
	}
	if !t.paused && total >= t.high {
		t.paused = true
		t.proto.PauseWriting()
	}
}

func (t *ByteTransport) onWritable() {
	t.mu.Lock()
	for len(t.writeBuf) > 0 {
		chunk := t.writeBuf[0]
		sent, err := t.trySend(chunk)
		if err != nil {
			t.mu.Unlock()
			t.forceClose(err)
			return
		}
		if sent < len(chunk) {
			t.writeBuf[0] = chunk[sent:]
			t.mu.Unlock()
			return
		}
		t.writeBuf = t.writeBuf[1:]
	}
	// buffer drained
	t.l.RemoveWriter(t.fd)
	t.writerOn = false
	if t.paused {
		total := 0
		for _, c := range t.writeBuf {
			total += len(c)
		}
		if total <= t.low {
			t.paused = false
			proto := t.proto
			t.mu.Unlock()
			proto.ResumeWriting()
			t.mu.Lock()
		}
	}
	closing := t.closing.Load()
	t.mu.Unlock()
	if closing {
		t.teardown(nil)
	}
}

// PauseWriting / ResumeWriting let an application-level caller drive
// backpressure manually by removing/re-adding the writer. Buffered bytes
// keep accumulating while paused.
func (t *ByteTransport) PauseWriting() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writerOn {
		t.l.RemoveWriter(t.fd)
		t.writerOn = false
	}
}

func (t *ByteTransport) ResumeWriting() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRegisterWriterLocked()
}

// Close marks the transport closing; teardown happens once the write
// buffer drains.
func (t *ByteTransport) Close() {
	if !t.closing.CompareAndSwap(false, true) {
		return
	}
	t.l.RemoveReader(t.fd)
	t.mu.Lock()
	empty := len(t.writeBuf) == 0
	t.mu.Unlock()
	if empty {
		t.l.CallSoon(func() { t.teardown(nil) })
	}
}

// Abort discards the write buffer and tears down immediately.
func (t *ByteTransport) Abort() {
	t.closing.Store(true)
	t.l.RemoveReader(t.fd)
	t.mu.Lock()
	t.writeBuf = nil
	if t.writerOn {
		t.l.RemoveWriter(t.fd)
		t.writerOn = false
	}
	t.mu.Unlock()
	t.l.CallSoon(func() { t.teardown(nil) })
}

func (t *ByteTransport) forceClose(err error) {
	t.closing.Store(true)
	t.l.RemoveReader(t.fd)
	t.mu.Lock()
	if t.writerOn {
		t.l.RemoveWriter(t.fd)
		t.writerOn = false
	}
	t.mu.Unlock()
	t.teardown(err)
}

// teardown invokes ConnectionLost exactly once, closes the socket, and
// drops the protocol reference to break the Protocol<->Transport cycle.
func (t *ByteTransport) teardown(err error) {
	if !t.connLost.CompareAndSwap(0, 1) {
		return
	}
	t.proto.ConnectionLost(err)
	syscall.Close(t.fd)
	t.proto = BaseProtocol{}
}

// IsClosing reports whether Close/Abort/force-close has been initiated.
func (t *ByteTransport) IsClosing() bool { return t.closing.Load() }

// FD exposes the duplicated descriptor, e.g. for tests asserting on it.
func (t *ByteTransport) FD() int { return t.fd }
