package transport

import (
	"errors"
	"net"
	"sync"
	"syscall"

	"go.uber.org/atomic"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/loop"
)

// DatagramTransport is the datagram counterpart of ByteTransport: unlike the
// byte transport, each successful read yields one (data, addr) pair to
// DatagramReceived rather than an unstructured stream, and write takes an
// explicit destination for an unconnected socket (grounded on net.UDPConn's
// ReadFrom/WriteTo, wrapped the same dup+nonblock way as ByteTransport).
type DatagramTransport struct {
	l     *loop.Loop
	fd    int
	conn  *net.UDPConn
	proto DatagramProtocol

	connected bool
	remote    net.Addr

	mu       sync.Mutex
	writeBuf []datagramChunk
	closing  atomic.Bool
	connLost atomic.Bool
	writerOn bool
}

type datagramChunk struct {
	data []byte
	addr net.Addr
}

// NewDatagramTransport wraps conn (already bound, and already connected if
// this is a connected endpoint per spec's create_datagram_endpoint remote
// address argument) and registers a reader.
func NewDatagramTransport(l *loop.Loop, conn *net.UDPConn, proto DatagramProtocol, connected bool, remote net.Addr) (*DatagramTransport, error) {
	fd, err := dupFD(conn)
	if err != nil {
		return nil, err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, aioerr.Wrap(err, "set nonblocking")
	}
	t := &DatagramTransport{
		l: l, fd: fd, conn: conn, proto: proto,
		connected: connected, remote: remote,
	}
	if err := l.AddReader(fd, t.onReadable); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	proto.ConnectionMade(t)
	return t, nil
}

func (t *DatagramTransport) onReadable() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := t.recvfrom(buf)
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN {
			return
		}
		if err != nil {
			if t.connected && isRefused(err) {
				t.proto.ConnectionRefused(aioerr.Wrap(aioerr.ErrConnectionRefused, err.Error()))
				return
			}
			t.teardown(aioerr.Wrap(err, "recvfrom"))
			return
		}
		t.proto.DatagramReceived(buf[:n], addr)
		return
	}
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// recvfrom reads one datagram via the raw fd, reporting the peer address
// when the socket is unconnected (syscall-level since *net.UDPConn.ReadFrom
// would block on the shared fd without the nonblocking/selector dance).
func (t *DatagramTransport) recvfrom(buf []byte) (int, net.Addr, error) {
	n, from, err := syscall.Recvfrom(t.fd, buf, 0)
	if err != nil {
		return 0, nil, err
	}
	var addr net.Addr
	if from != nil {
		addr = sockaddrToUDPAddr(from)
	} else {
		addr = t.remote
	}
	return n, addr, nil
}

func sockaddrToUDPAddr(sa syscall.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *syscall.SockaddrInet4:
		return &net.UDPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	case *syscall.SockaddrInet6:
		return &net.UDPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	default:
		return nil
	}
}

// Write sends to the connected peer. Calling Write on an unconnected
// endpoint is a usage error; use SendTo.
func (t *DatagramTransport) Write(data []byte) error {
	return t.SendTo(data, t.remote)
}

// SendTo sends data to addr. addr is ignored (must equal the connected
// remote) for a connected endpoint.
func (t *DatagramTransport) SendTo(data []byte, addr net.Addr) error {
	if len(data) == 0 {
		return nil
	}
	if t.closing.Load() || t.connLost.Load() {
		return nil
	}
	t.mu.Lock()
	if len(t.writeBuf) == 0 {
		t.mu.Unlock()
		ok, err := t.trySend(data, addr)
		if err != nil {
			t.handleSendErr(err)
			return err
		}
		if ok {
			return nil
		}
		t.mu.Lock()
	}
	t.writeBuf = append(t.writeBuf, datagramChunk{data: data, addr: addr})
	if !t.writerOn {
		t.writerOn = true
		_ = t.l.AddWriter(t.fd, t.onWritable)
	}
	t.mu.Unlock()
	return nil
}

// handleSendErr routes a write-path error the way a real UDP socket
// delivers it: ECONNREFUSED on a connected endpoint is a fatal, asynchronous
// signal from the peer and surfaces through ConnectionRefused exactly like
// the read path does. Any other error on a connected endpoint tears the
// transport down. An unconnected endpoint has no single peer to blame a
// send failure on, so the error is dropped and the endpoint keeps running.
func (t *DatagramTransport) handleSendErr(err error) {
	if !t.connected {
		return
	}
	if isRefused(err) {
		t.proto.ConnectionRefused(aioerr.Wrap(aioerr.ErrConnectionRefused, err.Error()))
		return
	}
	t.teardown(err)
}

// trySend attempts one sendto; ok is false only on EAGAIN (caller should
// queue and wait for writability).
func (t *DatagramTransport) trySend(data []byte, addr net.Addr) (bool, error) {
	var sa syscall.Sockaddr
	if ua, ok := addr.(*net.UDPAddr); ok && ua != nil {
		sa = udpAddrToSockaddr(ua)
	}
	var err error
	if sa != nil {
		err = syscall.Sendto(t.fd, data, 0, sa)
	} else {
		_, err = syscall.Write(t.fd, data)
	}
	if err == syscall.EAGAIN {
		return false, nil
	}
	if err != nil {
		return false, aioerr.Wrap(err, "sendto")
	}
	return true, nil
}

func udpAddrToSockaddr(a *net.UDPAddr) syscall.Sockaddr {
	if ip4 := a.IP.To4(); ip4 != nil {
		var s syscall.SockaddrInet4
		copy(s.Addr[:], ip4)
		s.Port = a.Port
		return &s
	}
	ip6 := a.IP.To16()
	if ip6 == nil {
		return nil
	}
	var s syscall.SockaddrInet6
	copy(s.Addr[:], ip6)
	s.Port = a.Port
	return &s
}

func (t *DatagramTransport) onWritable() {
	t.mu.Lock()
	for len(t.writeBuf) > 0 {
		c := t.writeBuf[0]
		ok, err := t.trySend(c.data, c.addr)
		if err != nil {
			t.writeBuf = t.writeBuf[1:]
			if t.connected {
				t.mu.Unlock()
				t.handleSendErr(err)
				return
			}
			continue
		}
		if !ok {
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

func (t *DatagramTransport) PauseWriting()  {}
func (t *DatagramTransport) ResumeWriting() {}

func (t *DatagramTransport) Close() {
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

func (t *DatagramTransport) Abort() {
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

func (t *DatagramTransport) teardown(err error) {
	if !t.connLost.CompareAndSwap(false, true) {
		return
	}
	t.proto.ConnectionLost(err)
	syscall.Close(t.fd)
	t.proto = BaseDatagramProtocol{}
}

// IsClosing reports whether Close/Abort has been initiated.
func (t *DatagramTransport) IsClosing() bool { return t.closing.Load() }

// LocalAddr returns the endpoint's bound local address.
func (t *DatagramTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
