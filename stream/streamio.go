package stream

import (
	"go.uber.org/atomic"

	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/transport"
)

// streamProtocolHooks is the mutable state shared between StreamProtocol's
// Protocol callbacks and the StreamWriter built on top of them.
type streamProtocolHooks struct {
	paused atomic.Bool
	writer *StreamWriter
}

// StreamProtocol bridges a selector-driven transport.Transport to a
// StreamReader/StreamWriter pair, the same role tulip's
// StreamReaderProtocol plays between a raw Protocol and its streams
// (original_source): ConnectionMade builds the StreamWriter now that a
// Transport exists, DataReceived/EOFReceived/ConnectionLost feed the
// StreamReader, and PauseWriting/ResumeWriting drive StreamWriter.Drain.
type StreamProtocol struct {
	transport.BaseProtocol

	l      *loop.Loop
	Reader *StreamReader
	Writer *StreamWriter

	hooks *streamProtocolHooks
}

// NewStreamProtocol creates a StreamProtocol whose Reader is ready
// immediately; Writer becomes non-nil once ConnectionMade runs (i.e. once
// the transport is attached).
func NewStreamProtocol(l *loop.Loop, lineLimit int) *StreamProtocol {
	return &StreamProtocol{
		l:      l,
		Reader: NewStreamReader(l, lineLimit),
		hooks:  &streamProtocolHooks{},
	}
}

func (p *StreamProtocol) ConnectionMade(t transport.Transport) {
	p.Writer = newStreamWriter(p.l, t, p.hooks)
	p.hooks.writer = p.Writer
}

func (p *StreamProtocol) DataReceived(data []byte) {
	p.Reader.FeedData(data)
}

func (p *StreamProtocol) EOFReceived() bool {
	p.Reader.FeedEOF()
	return false
}

func (p *StreamProtocol) ConnectionLost(err error) {
	if err != nil {
		p.Reader.SetException(err)
	} else {
		p.Reader.FeedEOF()
	}
}

func (p *StreamProtocol) PauseWriting() {
	p.hooks.paused.Store(true)
}

func (p *StreamProtocol) ResumeWriting() {
	p.hooks.paused.Store(false)
	if p.hooks.writer != nil {
		p.hooks.writer.onResumeWriting()
	}
}
