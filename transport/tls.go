package transport

import (
	"crypto/tls"
	"net"
	"sync"

	"go.uber.org/atomic"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// TLSTransport adapts a HANDSHAKING -> OPEN -> CLOSING transport with
// WANT_READ/WANT_WRITE discipline to stdlib crypto/tls, which performs that
// bookkeeping internally and only offers a blocking net.Conn-shaped
// Read/Write. Rather than re-deriving OpenSSL's nonblocking BIO state
// machine atop the readiness selector, each TLSTransport runs its own read
// pump and write pump on dedicated goroutines making blocking tls.Conn
// calls, and bridges back to loop-thread Protocol callbacks through
// CallSoonThreadsafe — the same executor-offload precedent used for
// SockConnect/SockAccept.
type TLSTransport struct {
	l     *loop.Loop
	conn  *tls.Conn
	proto Protocol

	writeCh   chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	closing  atomic.Bool
	connLost atomic.Bool

	high, low int
	bufLen    atomic.Int64
	paused    atomic.Bool
}

// NewTLSClient awaits the handshake as client (offloaded to the loop's
// executor, the same way SockConnect offloads net.Dial), then starts the
// read/write pumps and invokes protocol.ConnectionMade. Must be called from
// within a running Task, since it suspends via y.
func NewTLSClient(y *task.Yielder, l *loop.Loop, conn net.Conn, cfg *tls.Config, proto Protocol) (*TLSTransport, error) {
	return newTLS(y, l, tls.Client(conn, cfg), proto)
}

// NewTLSServer is NewTLSClient's server-side counterpart.
func NewTLSServer(y *task.Yielder, l *loop.Loop, conn net.Conn, cfg *tls.Config, proto Protocol) (*TLSTransport, error) {
	return newTLS(y, l, tls.Server(conn, cfg), proto)
}

func newTLS(y *task.Yielder, l *loop.Loop, tc *tls.Conn, proto Protocol) (*TLSTransport, error) {
	handshake := l.RunInExecutor(nil, func() (interface{}, error) {
		if err := tc.Handshake(); err != nil {
			tc.Close()
			return nil, aioerr.Wrap(err, "tls handshake")
		}
		return nil, nil
	})
	if _, err := y.Await(handshake); err != nil {
		return nil, err
	}

	t := &TLSTransport{
		l: l, conn: tc, proto: proto,
		writeCh: make(chan []byte, 64),
		closeCh: make(chan struct{}),
		high:    DefaultHighWatermark, low: DefaultLowWatermark,
	}
	go t.readPump()
	go t.writePump()
	proto.ConnectionMade(t)
	return t, nil
}

func (t *TLSTransport) readPump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			t.l.CallSoonThreadsafe(func() { t.proto.DataReceived(chunk) })
		}
		if err != nil {
			t.teardown(classifyErr(err))
			return
		}
	}
}

func (t *TLSTransport) writePump() {
	for {
		select {
		case data, ok := <-t.writeCh:
			if !ok {
				return
			}
			n := 0
			for n < len(data) {
				m, err := t.conn.Write(data[n:])
				if err != nil {
					t.teardown(classifyErr(err))
					return
				}
				n += m
			}
			left := t.bufLen.Sub(int64(len(data)))
			if t.paused.Load() && left <= int64(t.low) {
				t.paused.Store(false)
				t.l.CallSoonThreadsafe(t.proto.ResumeWriting)
			}
		case <-t.closeCh:
			return
		}
	}
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return aioerr.Wrap(err, "tls timeout")
	}
	return err
}

// Write enqueues data for the write pump. Silently drops once closing/lost,
// matching ByteTransport's discipline.
func (t *TLSTransport) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if t.closing.Load() || t.connLost.Load() {
		return nil
	}
	total := t.bufLen.Add(int64(len(data)))
	if !t.paused.Load() && total >= int64(t.high) {
		t.paused.Store(true)
		t.l.CallSoonThreadsafe(t.proto.PauseWriting)
	}
	select {
	case t.writeCh <- data:
	case <-t.closeCh:
	}
	return nil
}

// Close initiates an orderly TLS close_notify shutdown.
func (t *TLSTransport) Close() {
	if !t.closing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		t.conn.CloseWrite()
	}()
}

// Abort tears down immediately without a close_notify handshake.
func (t *TLSTransport) Abort() {
	t.closing.Store(true)
	t.teardown(nil)
}

func (t *TLSTransport) teardown(err error) {
	if !t.connLost.CompareAndSwap(false, true) {
		return
	}
	t.closeOnce.Do(func() { close(t.closeCh) })
	t.conn.Close()
	t.l.CallSoonThreadsafe(func() {
		t.proto.ConnectionLost(err)
		t.proto = BaseProtocol{}
	})
}

func (t *TLSTransport) PauseWriting()  {}
func (t *TLSTransport) ResumeWriting() {}

// IsClosing reports whether Close/Abort has been initiated.
func (t *TLSTransport) IsClosing() bool { return t.closing.Load() }

// ConnectionState exposes the negotiated TLS parameters, e.g. for tests
// asserting on the agreed protocol version/cipher suite.
func (t *TLSTransport) ConnectionState() tls.ConnectionState {
	return t.conn.ConnectionState()
}
