package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/aiogo/loop"
)

func newRunningLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New()
	require.NoError(t, err)
	go l.RunForever()
	t.Cleanup(func() {
		l.Stop()
		l.Close()
	})
	return l
}

// recordingProtocol captures everything a Protocol callback set reports, for
// assertions from the test goroutine (guarded by mu since callbacks run on
// the loop goroutine).
type recordingProtocol struct {
	BaseProtocol

	mu       sync.Mutex
	made     bool
	received []byte
	eof      bool
	lostErr  error
	lost     bool
	paused   bool
	resumed  bool
}

func (p *recordingProtocol) ConnectionMade(Transport) {
	p.mu.Lock()
	p.made = true
	p.mu.Unlock()
}

func (p *recordingProtocol) DataReceived(data []byte) {
	p.mu.Lock()
	p.received = append(p.received, data...)
	p.mu.Unlock()
}

func (p *recordingProtocol) EOFReceived() bool {
	p.mu.Lock()
	p.eof = true
	p.mu.Unlock()
	return false
}

func (p *recordingProtocol) ConnectionLost(err error) {
	p.mu.Lock()
	p.lost = true
	p.lostErr = err
	p.mu.Unlock()
}

func (p *recordingProtocol) PauseWriting()  { p.mu.Lock(); p.paused = true; p.mu.Unlock() }
func (p *recordingProtocol) ResumeWriting() { p.mu.Lock(); p.resumed = true; p.mu.Unlock() }

func (p *recordingProtocol) snapshot() (made bool, received []byte, eof, lost bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.made, append([]byte(nil), p.received...), p.eof, p.lost
}

func dialedPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-accepted
	require.NotNil(t, server)
	return client, server
}

func TestByteTransportDeliversDataAndEOF(t *testing.T) {
	l := newRunningLoop(t)
	client, server := dialedPair(t)
	defer client.Close()

	proto := &recordingProtocol{}
	tr, err := NewByteTransport(l, server, proto)
	require.NoError(t, err)
	defer tr.Abort()

	_, err = client.Write([]byte("hello transport"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		made, received, _, _ := proto.snapshot()
		if made && string(received) == "hello transport" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("did not observe expected data in time, got %q", received)
		}
		time.Sleep(time.Millisecond)
	}

	client.Close()
	deadline = time.Now().Add(2 * time.Second)
	for {
		_, _, eof, _ := proto.snapshot()
		if eof {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("EOFReceived was never invoked")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestByteTransportWriteRoundTrips(t *testing.T) {
	l := newRunningLoop(t)
	client, server := dialedPair(t)
	defer server.Close()

	proto := &recordingProtocol{}
	tr, err := NewByteTransport(l, client, proto)
	require.NoError(t, err)
	defer tr.Abort()

	require.NoError(t, tr.Write([]byte("from transport")))

	buf := make([]byte, 64)
	n, err := readFull(server, buf, "from transport")
	require.NoError(t, err)
	assert.Equal(t, "from transport", string(buf[:n]))
}

func readFull(conn net.Conn, buf []byte, want string) (int, error) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(want) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func TestByteTransportCloseTearsDownOnce(t *testing.T) {
	l := newRunningLoop(t)
	_, server := dialedPair(t)
	defer server.Close()

	proto := &recordingProtocol{}
	tr, err := NewByteTransport(l, server, proto)
	require.NoError(t, err)

	tr.Close()
	tr.Close() // idempotent

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, _, lost := proto.snapshot()
		if lost {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ConnectionLost never fired")
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, tr.IsClosing())
}

func TestByteTransportWriteAfterCloseIsDropped(t *testing.T) {
	l := newRunningLoop(t)
	_, server := dialedPair(t)
	defer server.Close()

	tr, err := NewByteTransport(l, server, &recordingProtocol{})
	require.NoError(t, err)
	tr.Abort()
	assert.NoError(t, tr.Write([]byte("dropped")))
}
