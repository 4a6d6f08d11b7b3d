package loop

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runUntilDone(t *testing.T, l *Loop, timeout time.Duration) {
	t.Helper()
	go l.RunForever()
	t.Cleanup(l.Stop)
	_ = timeout
}

func TestSockConnectAndSockAccept(t *testing.T) {
	l := newTestLoop(t)
	runUntilDone(t, l, 2*time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptFut := l.SockAccept(ln)
	connectFut := l.SockConnect("tcp", ln.Addr().String())

	serverSide := waitFuture(t, acceptFut, 2*time.Second)
	clientSide := waitFuture(t, connectFut, 2*time.Second)

	sc, ok := serverSide.(net.Conn)
	require.True(t, ok)
	defer sc.Close()
	cc, ok := clientSide.(net.Conn)
	require.True(t, ok)
	defer cc.Close()

	assert.Equal(t, cc.RemoteAddr().String(), sc.LocalAddr().String())
}

func TestSockSendallThenSockRecv(t *testing.T) {
	l := newTestLoop(t)
	runUntilDone(t, l, 2*time.Second)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptFut := l.SockAccept(ln)
	connectFut := l.SockConnect("tcp", ln.Addr().String())
	server := waitFuture(t, acceptFut, 2*time.Second).(net.Conn)
	defer server.Close()
	client := waitFuture(t, connectFut, 2*time.Second).(net.Conn)
	defer client.Close()

	sendFut := l.SockSendall(client, []byte("hello there"))
	waitFuture(t, sendFut, 2*time.Second)

	buf := make([]byte, 32)
	recvFut := l.SockRecv(server, buf)
	v := waitFuture(t, recvFut, 2*time.Second)
	assert.Equal(t, "hello there", string(v.([]byte)))
}

func TestSockSendallEmptyBufferResolvesImmediately(t *testing.T) {
	l := newTestLoop(t)
	fut := l.SockSendall(nil, nil)
	v, err := fut.Result()
	assert.NoError(t, err)
	assert.Nil(t, v)
}

// waitFuture polls a future to completion without depending on a running
// Task driver — suitable for tests that only exercise loop-level Futures.
func waitFuture(t *testing.T, fut interface {
	Done() bool
	Result() (interface{}, error)
}, timeout time.Duration) interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !fut.Done() {
		if time.Now().After(deadline) {
			t.Fatal("future never completed")
		}
		time.Sleep(time.Millisecond)
	}
	v, err := fut.Result()
	require.NoError(t, err)
	return v
}
