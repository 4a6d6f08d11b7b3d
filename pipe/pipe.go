// Package pipe implements the unix pipe transports and subprocess lifecycle
// management built on top of loop and transport. Grounded on xtaci/gaio's
// fd-registration pattern (watcher.go) for the transport half, and on
// os/exec usage from postmanlabs-observability-cli's apidump/exec.go for
// process spawning.
package pipe

import (
	"os"
	"sync"
	"syscall"

	"go.uber.org/atomic"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/transport"
)

// ConnectReadPipe wraps f's descriptor in a ReadPipeTransport; f itself must
// not be used for I/O afterward.
func ConnectReadPipe(l *loop.Loop, f *os.File, proto transport.Protocol) (*ReadPipeTransport, error) {
	return NewReadPipeTransport(l, int(f.Fd()), proto)
}

// ConnectWritePipe wraps f's descriptor in a WritePipeTransport; f itself
// must not be used for I/O afterward.
func ConnectWritePipe(l *loop.Loop, f *os.File, proto transport.Protocol) (*WritePipeTransport, error) {
	return NewWritePipeTransport(l, int(f.Fd()), proto)
}

// ReadPipeTransport drives a read-only pipe fd: every readable wakeup feeds
// protocol.DataReceived, and a zero-byte read is EOF with no half-close
// option (a pipe has no SHUT_WR/SHUT_RD pair). Supports Pause/Resume by
// toggling the fd's reader registration.
type ReadPipeTransport struct {
	l     *loop.Loop
	fd    int
	proto transport.Protocol

	closing  atomic.Bool
	connLost atomic.Bool
	paused   atomic.Bool
}

// NewReadPipeTransport takes ownership of fd (caller must not close it
// afterward) and registers a reader.
func NewReadPipeTransport(l *loop.Loop, fd int, proto transport.Protocol) (*ReadPipeTransport, error) {
	if err := syscall.SetNonblock(fd, true); err != nil {
		return nil, aioerr.Wrap(err, "set nonblocking")
	}
	t := &ReadPipeTransport{l: l, fd: fd, proto: proto}
	if err := l.AddReader(fd, t.onReadable); err != nil {
		return nil, err
	}
	proto.ConnectionMade(t)
	return t, nil
}

func (t *ReadPipeTransport) onReadable() {
	buf := make([]byte, 32*1024)
	for {
		n, err := syscall.Read(t.fd, buf)
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN {
			return
		}
		if err != nil {
			t.teardown(aioerr.Wrap(err, "read"))
			return
		}
		if n == 0 {
			t.proto.EOFReceived()
			t.Close()
			return
		}
		t.proto.DataReceived(buf[:n])
		return
	}
}

func (t *ReadPipeTransport) Close() {
	if !t.closing.CompareAndSwap(false, true) {
		return
	}
	t.l.RemoveReader(t.fd)
	t.l.CallSoon(func() { t.teardown(nil) })
}

func (t *ReadPipeTransport) Abort() { t.Close() }

func (t *ReadPipeTransport) teardown(err error) {
	if !t.connLost.CompareAndSwap(false, true) {
		return
	}
	t.proto.ConnectionLost(err)
	syscall.Close(t.fd)
}

func (t *ReadPipeTransport) IsClosing() bool { return t.closing.Load() }

// Pause stops delivering DataReceived/EOFReceived callbacks by removing the
// fd's reader registration; the pipe itself keeps accumulating unread bytes
// in the kernel. A no-op once closing or already paused.
func (t *ReadPipeTransport) Pause() {
	if t.closing.Load() || !t.paused.CompareAndSwap(false, true) {
		return
	}
	t.l.RemoveReader(t.fd)
}

// Resume re-arms the reader after Pause. A no-op once closing or not
// currently paused.
func (t *ReadPipeTransport) Resume() {
	if t.closing.Load() || !t.paused.CompareAndSwap(true, false) {
		return
	}
	_ = t.l.AddReader(t.fd, t.onReadable)
}

// WritePipeTransport drives a write-only pipe fd, with buffering mirrored
// from transport.ByteTransport's write half but no high/low watermark (the
// protocol's PauseWriting/ResumeWriting are never called),
// specialized to a pipe's single-direction nature (no recv, and WriteEOF
// closes the fd for good rather than half-closing a socket).
type WritePipeTransport struct {
	l     *loop.Loop
	fd    int
	proto transport.Protocol

	mu       sync.Mutex
	writeBuf [][]byte
	writerOn bool
	closing  atomic.Bool
	connLost atomic.Bool
}

func NewWritePipeTransport(l *loop.Loop, fd int, proto transport.Protocol) (*WritePipeTransport, error) {
	if err := syscall.SetNonblock(fd, true); err != nil {
		return nil, aioerr.Wrap(err, "set nonblocking")
	}
	t := &WritePipeTransport{l: l, fd: fd, proto: proto}
	proto.ConnectionMade(t)
	return t, nil
}

func (t *WritePipeTransport) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if t.closing.Load() || t.connLost.Load() {
		return nil
	}
	t.mu.Lock()
	if len(t.writeBuf) == 0 {
		t.mu.Unlock()
		sent, err := t.trySend(data)
		if err != nil {
			t.teardown(err)
			return err
		}
		if sent == len(data) {
			return nil
		}
		t.mu.Lock()
		t.writeBuf = append(t.writeBuf, data[sent:])
		t.armWriterLocked()
		t.mu.Unlock()
		return nil
	}
	t.writeBuf = append(t.writeBuf, data)
	t.armWriterLocked()
	t.mu.Unlock()
	return nil
}

func (t *WritePipeTransport) trySend(data []byte) (int, error) {
	sent := 0
	for sent < len(data) {
		n, err := syscall.Write(t.fd, data[sent:])
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN {
			return sent, nil
		}
		if err == syscall.EPIPE {
			return sent, aioerr.Wrap(aioerr.ErrBrokenPipe, err.Error())
		}
		if err != nil {
			return sent, aioerr.Wrap(err, "write")
		}
		sent += n
	}
	return sent, nil
}

func (t *WritePipeTransport) armWriterLocked() {
	if t.writerOn || len(t.writeBuf) == 0 {
		return
	}
	t.writerOn = true
	_ = t.l.AddWriter(t.fd, t.onWritable)
}

func (t *WritePipeTransport) onWritable() {
	t.mu.Lock()
	for len(t.writeBuf) > 0 {
		chunk := t.writeBuf[0]
		sent, err := t.trySend(chunk)
		if err != nil {
			t.mu.Unlock()
			t.teardown(err)
			return
		}
		if sent < len(chunk) {
			t.writeBuf[0] = chunk[sent:]
			t.mu.Unlock()
			return
		}
		t.writeBuf = t.writeBuf[1:]
	}
	t.l.RemoveWriter(t.fd)
	t.writerOn = false
	closing := t.closing.Load()
	t.mu.Unlock()
	if closing {
		t.teardown(nil)
	}
}

// WriteEOF closes the write end, signalling EOF to the reading side. Unlike
// a socket half-close there is nothing left to read from a pipe's write
// end, so this is equivalent to Close once the buffer drains.
func (t *WritePipeTransport) WriteEOF() {
	t.Close()
}

func (t *WritePipeTransport) Close() {
	if !t.closing.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	empty := len(t.writeBuf) == 0
	t.mu.Unlock()
	if empty {
		t.l.CallSoon(func() { t.teardown(nil) })
	}
}

func (t *WritePipeTransport) Abort() {
	t.closing.Store(true)
	t.mu.Lock()
	t.writeBuf = nil
	if t.writerOn {
		t.l.RemoveWriter(t.fd)
		t.writerOn = false
	}
	t.mu.Unlock()
	t.l.CallSoon(func() { t.teardown(nil) })
}

func (t *WritePipeTransport) teardown(err error) {
	if !t.connLost.CompareAndSwap(false, true) {
		return
	}
	t.proto.ConnectionLost(err)
	syscall.Close(t.fd)
}

func (t *WritePipeTransport) IsClosing() bool { return t.closing.Load() }
