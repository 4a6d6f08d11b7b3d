package transport

import (
	"net"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// CreateConnection awaits a dial of network/addr (off-loaded to the loop's
// executor by SockConnect) and wraps the resulting net.Conn in a
// ByteTransport bound to factory(). Must be called from within a running
// Task, since it suspends via y.
func CreateConnection(y *task.Yielder, l *loop.Loop, network, addr string, factory func() Protocol) (*ByteTransport, error) {
	v, err := y.Await(l.SockConnect(network, addr))
	if err != nil {
		return nil, err
	}
	conn, ok := v.(net.Conn)
	if !ok {
		return nil, aioerr.ErrUnsupported
	}
	return NewByteTransport(l, conn, factory())
}

// CreateDatagramEndpoint binds a UDP socket at localAddr (optionally
// connecting it to remoteAddr) and wraps it in a DatagramTransport.
func CreateDatagramEndpoint(l *loop.Loop, network, localAddr, remoteAddr string, factory func() DatagramProtocol) (*DatagramTransport, error) {
	var conn *net.UDPConn
	var remote net.Addr
	connected := remoteAddr != ""

	if connected {
		raddr, err := net.ResolveUDPAddr(network, remoteAddr)
		if err != nil {
			return nil, aioerr.Wrap(err, "resolve remote addr")
		}
		var laddr *net.UDPAddr
		if localAddr != "" {
			laddr, err = net.ResolveUDPAddr(network, localAddr)
			if err != nil {
				return nil, aioerr.Wrap(err, "resolve local addr")
			}
		}
		c, err := net.DialUDP(network, laddr, raddr)
		if err != nil {
			return nil, aioerr.Wrap(err, "dial udp")
		}
		conn = c
		remote = raddr
	} else {
		laddr, err := net.ResolveUDPAddr(network, localAddr)
		if err != nil {
			return nil, aioerr.Wrap(err, "resolve local addr")
		}
		c, err := net.ListenUDP(network, laddr)
		if err != nil {
			return nil, aioerr.Wrap(err, "listen udp")
		}
		conn = c
	}

	return NewDatagramTransport(l, conn, factory(), connected, remote)
}

// Listener serves incoming connections by handing each accepted net.Conn to
// a fresh ByteTransport/Protocol pair. One listener binds exactly one
// address, rather than returning a list of dual-stack sockets.
type Listener struct {
	l       *loop.Loop
	ln      net.Listener
	factory func() Protocol
	stopped chan struct{}
}

// StartServing binds network/addr and accepts connections on a dedicated
// goroutine, spawning a ByteTransport per connection on the loop thread.
func StartServing(l *loop.Loop, network, addr string, factory func() Protocol) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, aioerr.Wrap(err, "listen")
	}
	sv := &Listener{l: l, ln: ln, factory: factory, stopped: make(chan struct{})}
	go sv.run()
	return sv, nil
}

func (sv *Listener) run() {
	for {
		conn, err := sv.ln.Accept()
		if err != nil {
			select {
			case <-sv.stopped:
				return
			default:
				continue
			}
		}
		c := conn
		sv.l.CallSoonThreadsafe(func() {
			NewByteTransport(sv.l, c, sv.factory())
		})
	}
}

// Addr returns the listener's bound address.
func (sv *Listener) Addr() net.Addr { return sv.ln.Addr() }

// StopServing closes the listening socket.
func (sv *Listener) StopServing() error {
	close(sv.stopped)
	return sv.ln.Close()
}
