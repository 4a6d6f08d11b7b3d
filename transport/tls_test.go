package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/aiogo/task"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestTLSTransportHandshakeAndRoundTrip(t *testing.T) {
	l := newRunningLoop(t)
	cert := selfSignedCert(t)
	clientRaw, serverRaw := dialedPair(t)

	serverProto := &recordingProtocol{}
	serverTk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return NewTLSServer(y, l, serverRaw, &tls.Config{Certificates: []tls.Certificate{cert}}, serverProto)
	})

	clientProto := &recordingProtocol{}
	clientTk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return NewTLSClient(y, l, clientRaw, &tls.Config{InsecureSkipVerify: true}, clientProto)
	})

	deadline := time.Now().Add(2 * time.Second)
	for !clientTk.Done() {
		if time.Now().After(deadline) {
			t.Fatal("client-side handshake never completed")
		}
		time.Sleep(time.Millisecond)
	}
	cv, err := clientTk.Result()
	require.NoError(t, err)
	clientTr := cv.(*TLSTransport)
	defer clientTr.Abort()

	for !serverTk.Done() {
		if time.Now().After(deadline) {
			t.Fatal("server-side handshake never completed")
		}
		time.Sleep(time.Millisecond)
	}
	sv, err := serverTk.Result()
	require.NoError(t, err)
	serverTr := sv.(*TLSTransport)
	defer serverTr.Abort()

	require.NoError(t, clientTr.Write([]byte("secure hello")))

	deadline = time.Now().Add(2 * time.Second)
	for {
		_, received, _, _ := serverProto.snapshot()
		if string(received) == "secure hello" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never received plaintext, got %q", received)
		}
		time.Sleep(time.Millisecond)
	}

	assert.NotEmpty(t, clientTr.ConnectionState().Version)
}

func TestTLSTransportAbortInvokesConnectionLost(t *testing.T) {
	l := newRunningLoop(t)
	cert := selfSignedCert(t)
	clientRaw, serverRaw := dialedPair(t)

	serverTk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return NewTLSServer(y, l, serverRaw, &tls.Config{Certificates: []tls.Certificate{cert}}, &recordingProtocol{})
	})

	clientProto := &recordingProtocol{}
	clientTk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return NewTLSClient(y, l, clientRaw, &tls.Config{InsecureSkipVerify: true}, clientProto)
	})

	deadline := time.Now().Add(2 * time.Second)
	for !clientTk.Done() || !serverTk.Done() {
		if time.Now().After(deadline) {
			t.Fatal("handshake never completed")
		}
		time.Sleep(time.Millisecond)
	}
	cv, err := clientTk.Result()
	require.NoError(t, err)
	clientTr := cv.(*TLSTransport)

	clientTr.Abort()
	deadline = time.Now().Add(2 * time.Second)
	for {
		_, _, _, lost := clientProto.snapshot()
		if lost {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ConnectionLost never fired after Abort")
		}
		time.Sleep(time.Millisecond)
	}
}
