package stream

import (
	"sync"

	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
	"github.com/xtaci/aiogo/transport"
)

// eofWriter is the slice of pipe.WritePipeTransport's API StreamWriter
// needs beyond transport.Transport (WriteEOF), kept as a narrow local
// interface so this package doesn't have to import pipe and any transport
// with a WriteEOF method qualifies.
type eofWriter interface {
	WriteEOF()
}

// StreamWriter is the high-level byte-stream producer:
// Write/WriteLines never block; Drain resolves once the transport has
// asked the protocol to resume writing, giving applications a way to apply
// producer-side backpressure.
type StreamWriter struct {
	l    *loop.Loop
	t    transport.Transport
	proto *streamProtocolHooks

	mu       sync.Mutex
	draining *future.Future
}

func newStreamWriter(l *loop.Loop, t transport.Transport, hooks *streamProtocolHooks) *StreamWriter {
	return &StreamWriter{l: l, t: t, proto: hooks}
}

// Write queues data on the underlying transport.
func (w *StreamWriter) Write(data []byte) error {
	return w.t.Write(data)
}

// WriteLines writes each element of seq in order.
func (w *StreamWriter) WriteLines(seq [][]byte) error {
	for _, line := range seq {
		if err := w.t.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// WriteEOF half-closes the write side if the underlying transport supports
// it.
func (w *StreamWriter) WriteEOF() {
	if ew, ok := w.t.(eofWriter); ok {
		ew.WriteEOF()
	}
}

// Close closes the underlying transport.
func (w *StreamWriter) Close() { w.t.Close() }

// IsClosing reports the transport's closing state.
func (w *StreamWriter) IsClosing() bool { return w.t.IsClosing() }

// Drain suspends the calling task until ResumeWriting has been signalled,
// or returns immediately if the transport isn't currently paused.
func (w *StreamWriter) Drain(y *task.Yielder) error {
	w.mu.Lock()
	if !w.proto.paused.Load() {
		w.mu.Unlock()
		return nil
	}
	if w.draining == nil {
		w.draining = future.New(w.l)
	}
	fut := w.draining
	w.mu.Unlock()
	_, err := y.Await(fut)
	return err
}

func (w *StreamWriter) onResumeWriting() {
	w.mu.Lock()
	fut := w.draining
	w.draining = nil
	w.mu.Unlock()
	if fut != nil {
		fut.SetResult(nil)
	}
}
