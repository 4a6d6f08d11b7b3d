package stream

import (
	"bytes"
	"sync"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// StreamReader is the high-level byte-stream consumer: Read,
// ReadLine, and ReadExactly each suspend on a waiter Future (a fresh one
// per wait) until enough bytes are present or EOF. Grounded on tulip's StreamReader
// (original_source), adapted to park via task.Yielder.Await instead of a
// bare `yield from`.
type StreamReader struct {
	l *loop.Loop

	mu     sync.Mutex
	buf    []byte
	eof    bool
	err    error
	waiter *future.Future

	limit int
}

// DefaultLineLimit is the line-length ceiling ReadLine enforces when no
// other limit is configured.
const DefaultLineLimit = 64 * 1024

// NewStreamReader creates an empty reader. limit<=0 uses DefaultLineLimit.
func NewStreamReader(l *loop.Loop, limit int) *StreamReader {
	if limit <= 0 {
		limit = DefaultLineLimit
	}
	return &StreamReader{l: l, limit: limit}
}

// FeedData appends newly arrived bytes, waking any pending reader.
func (r *StreamReader) FeedData(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	r.buf = append(r.buf, data...)
	r.wakeLocked()
	r.mu.Unlock()
}

// FeedEOF marks the stream exhausted.
func (r *StreamReader) FeedEOF() {
	r.mu.Lock()
	r.eof = true
	r.wakeLocked()
	r.mu.Unlock()
}

// SetException arms err to surface to the reading task.
func (r *StreamReader) SetException(err error) {
	r.mu.Lock()
	r.err = err
	r.wakeLocked()
	r.mu.Unlock()
}

func (r *StreamReader) wakeLocked() {
	if r.waiter != nil {
		w := r.waiter
		r.waiter = nil
		w.SetResult(nil)
	}
}

// waitForMore suspends y until the next FeedData/FeedEOF/SetException call.
func (r *StreamReader) waitForMore(y *task.Yielder) error {
	r.mu.Lock()
	if r.waiter != nil {
		r.mu.Unlock()
		return aioerr.Wrapf(aioerr.ErrInvalidState, "StreamReader already has a waiter")
	}
	fut := future.New(r.l)
	r.waiter = fut
	r.mu.Unlock()
	_, err := y.Await(fut)
	return err
}

// Read returns up to n bytes (n<0 reads until EOF), suspending as needed.
func (r *StreamReader) Read(y *task.Yielder, n int) ([]byte, error) {
	if n < 0 {
		for {
			r.mu.Lock()
			if r.eof && len(r.buf) == 0 {
				err := r.err
				r.mu.Unlock()
				return nil, err
			}
			if r.eof {
				out := r.buf
				r.buf = nil
				err := r.err
				r.mu.Unlock()
				return out, err
			}
			if r.err != nil {
				err := r.err
				r.mu.Unlock()
				return nil, err
			}
			r.mu.Unlock()
			if err := r.waitForMore(y); err != nil {
				return nil, err
			}
		}
	}

	for {
		r.mu.Lock()
		if len(r.buf) > 0 {
			take := n
			if take > len(r.buf) {
				take = len(r.buf)
			}
			out := append([]byte(nil), r.buf[:take]...)
			r.buf = r.buf[take:]
			r.mu.Unlock()
			return out, nil
		}
		if r.err != nil {
			err := r.err
			r.mu.Unlock()
			return nil, err
		}
		if r.eof {
			r.mu.Unlock()
			return nil, nil
		}
		r.mu.Unlock()
		if err := r.waitForMore(y); err != nil {
			return nil, err
		}
	}
}

// ReadLine returns bytes up to and including '\n', or the trailing partial
// line at EOF without a terminator.
func (r *StreamReader) ReadLine(y *task.Yielder) ([]byte, error) {
	for {
		r.mu.Lock()
		if idx := bytes.IndexByte(r.buf, '\n'); idx >= 0 {
			out := append([]byte(nil), r.buf[:idx+1]...)
			r.buf = r.buf[idx+1:]
			r.mu.Unlock()
			return out, nil
		}
		if len(r.buf) > r.limit {
			r.mu.Unlock()
			return nil, &aioerr.LineTooLongError{Limit: r.limit}
		}
		if r.err != nil {
			err := r.err
			r.mu.Unlock()
			return nil, err
		}
		if r.eof {
			out := r.buf
			r.buf = nil
			r.mu.Unlock()
			return out, nil
		}
		r.mu.Unlock()
		if err := r.waitForMore(y); err != nil {
			return nil, err
		}
	}
}

// ReadExactly returns exactly n bytes or an IncompleteReadError carrying
// whatever was read before EOF.
func (r *StreamReader) ReadExactly(y *task.Yielder, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	for {
		r.mu.Lock()
		if len(r.buf) >= n {
			out := append([]byte(nil), r.buf[:n]...)
			r.buf = r.buf[n:]
			r.mu.Unlock()
			return out, nil
		}
		if r.err != nil {
			err := r.err
			r.mu.Unlock()
			return nil, err
		}
		if r.eof {
			partial := append([]byte(nil), r.buf...)
			r.buf = nil
			r.mu.Unlock()
			return nil, &aioerr.IncompleteReadError{Partial: partial, Expected: n}
		}
		r.mu.Unlock()
		if err := r.waitForMore(y); err != nil {
			return nil, err
		}
	}
}

// AtEOF reports whether the stream has been marked exhausted and fully
// drained (no buffered bytes remain).
func (r *StreamReader) AtEOF() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eof && len(r.buf) == 0
}
