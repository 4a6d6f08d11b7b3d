// Package stream implements the cursor-addressable parser
// buffer, the framed-item queue a parser writes into, the StreamBuffer that
// wires a parser coroutine to incoming bytes, and the high-level
// StreamReader/StreamWriter pair applications actually use. Grounded on
// tulip/streams.py (original_source) for the protocol between driver and
// parser, adapted from Python generator `send`/`throw` to the goroutine +
// unbuffered-channel handoff already established in package task.
package stream

import (
	"bytes"

	"github.com/xtaci/aiogo/aioerr"
)

// compactThreshold is how far the read cursor must drift from the start of
// buf before the consumed prefix is discarded.
const compactThreshold = 64 * 1024

// ParserBuffer is a growable byte buffer with a logical read cursor. Its
// read primitives block the calling goroutine (via
// moreFn) whenever not enough bytes are buffered yet; moreFn is wired up by
// whatever is driving the parser — see StreamBuffer.
type ParserBuffer struct {
	buf []byte
	pos int

	// moreFn suspends the caller until more bytes are fed or a terminal
	// condition (EofStream, or another error) is reached. nil means no
	// driver is attached, i.e. pure accumulation mode.
	moreFn func() error
}

// NewParserBuffer returns an empty ParserBuffer.
func NewParserBuffer() *ParserBuffer {
	return &ParserBuffer{}
}

// Feed appends newly arrived bytes in amortized O(1).
func (pb *ParserBuffer) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	pb.buf = append(pb.buf, data...)
}

// Len reports the number of unread bytes.
func (pb *ParserBuffer) Len() int { return len(pb.buf) - pb.pos }

// Bytes returns a copy of the unread residue without consuming it, e.g. to
// hand leftover bytes to a freshly attached parser.
func (pb *ParserBuffer) Bytes() []byte {
	return append([]byte(nil), pb.buf[pb.pos:]...)
}

func (pb *ParserBuffer) compact() {
	if pb.pos < compactThreshold {
		return
	}
	pb.buf = append(pb.buf[:0], pb.buf[pb.pos:]...)
	pb.pos = 0
}

func (pb *ParserBuffer) waitMore() error {
	if pb.moreFn == nil {
		return aioerr.ErrEofStream
	}
	return pb.moreFn()
}

// Read returns exactly n bytes, suspending for more input as needed.
func (pb *ParserBuffer) Read(n int) ([]byte, error) {
	for pb.Len() < n {
		if err := pb.waitMore(); err != nil {
			return nil, err
		}
	}
	b := append([]byte(nil), pb.buf[pb.pos:pb.pos+n]...)
	pb.pos += n
	pb.compact()
	return b, nil
}

// ReadSome returns whatever is currently available, up to max bytes (max<=0
// means unbounded), suspending until at least one byte is buffered.
func (pb *ParserBuffer) ReadSome(max int) ([]byte, error) {
	for pb.Len() == 0 {
		if err := pb.waitMore(); err != nil {
			return nil, err
		}
	}
	n := pb.Len()
	if max > 0 && max < n {
		n = max
	}
	b := append([]byte(nil), pb.buf[pb.pos:pb.pos+n]...)
	pb.pos += n
	pb.compact()
	return b, nil
}

// ReadUntil returns bytes up to and including delim, suspending for more
// input as needed. limit<=0 means unbounded; otherwise exceeding limit
// bytes scanned without finding delim raises LineTooLongError.
func (pb *ParserBuffer) ReadUntil(delim []byte, limit int) ([]byte, error) {
	for {
		if idx := bytes.Index(pb.buf[pb.pos:], delim); idx >= 0 {
			end := pb.pos + idx + len(delim)
			if limit > 0 && end-pb.pos > limit {
				return nil, &aioerr.LineTooLongError{Limit: limit}
			}
			b := append([]byte(nil), pb.buf[pb.pos:end]...)
			pb.pos = end
			pb.compact()
			return b, nil
		}
		if limit > 0 && pb.Len() > limit {
			return nil, &aioerr.LineTooLongError{Limit: limit}
		}
		if err := pb.waitMore(); err != nil {
			return nil, err
		}
	}
}

// Skip discards exactly n bytes, suspending for more input as needed.
func (pb *ParserBuffer) Skip(n int) error {
	_, err := pb.Read(n)
	return err
}

// SkipUntil discards bytes up to and including delim.
func (pb *ParserBuffer) SkipUntil(delim []byte) error {
	_, err := pb.ReadUntil(delim, 0)
	return err
}
