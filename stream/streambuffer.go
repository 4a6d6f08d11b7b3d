package stream

import (
	"sync"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
)

// Parser is a restartable cooperative coroutine: it reads
// through pb's cursor primitives, which suspend the parser's goroutine
// until more bytes are fed, and emits framed items via out.FeedData. A nil
// return means the parser finished normally (it is responsible for calling
// out.FeedEOF itself if reaching EOF should end the stream of items); a
// non-nil return is treated as the parser's own terminal error and is
// automatically placed on out via SetException, the same "swallow and
// translate to its own error" path a generator-based parser follows.
type Parser func(pb *ParserBuffer, out *DataBuffer) error

// parserSignal is what the parser goroutine reports back to the driver:
// either "I am blocked waiting for more input" (done=false) or "I have
// terminated" (done=true, carrying the Parser's return value).
type parserSignal struct {
	done bool
	err  error
}

// parserInstance is the goroutine/channel plumbing connecting a running
// Parser to its driving StreamBuffer, mirrored from package task's
// Task.toCoro/fromCoro handoff.
type parserInstance struct {
	out        *DataBuffer
	toParser   chan error
	fromParser chan parserSignal
}

func (inst *parserInstance) moreFn() error {
	inst.fromParser <- parserSignal{}
	return <-inst.toParser
}

func (inst *parserInstance) run(p Parser, pb *ParserBuffer) {
	err := p(pb, inst.out)
	inst.fromParser <- parserSignal{done: true, err: err}
}

// StreamBuffer pairs a ParserBuffer with an optional currently-attached
// parser and the DataBuffer it writes into.
type StreamBuffer struct {
	mu   sync.Mutex
	loop future.Scheduler
	pb   *ParserBuffer
	cur  *parserInstance
	exc  error
}

// NewStreamBuffer creates an empty StreamBuffer with no parser attached;
// fed bytes simply accumulate in its ParserBuffer until SetParser is called.
func NewStreamBuffer(loop future.Scheduler) *StreamBuffer {
	return &StreamBuffer{loop: loop, pb: NewParserBuffer()}
}

// ParserBuffer exposes the underlying buffer, e.g. for residue inspection
// once a parser has detached.
func (sb *StreamBuffer) ParserBuffer() *ParserBuffer { return sb.pb }

// SetParser attaches p, detaching any previously attached parser first
// (throwing EofStream into it), and returns the DataBuffer it will write
// into. Already-buffered bytes are consumed eagerly as part of priming.
func (sb *StreamBuffer) SetParser(p Parser) *DataBuffer {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.cur != nil {
		sb.detachLocked()
	}

	out := NewDataBuffer(sb.loop)
	if sb.exc != nil {
		out.SetException(sb.exc)
		return out
	}

	inst := &parserInstance{
		out:        out,
		toParser:   make(chan error),
		fromParser: make(chan parserSignal),
	}
	sb.pb.moreFn = inst.moreFn
	sb.cur = inst
	go inst.run(p, sb.pb)

	sig := <-inst.fromParser
	if sig.done {
		sb.finishLocked(inst, sig.err)
	}
	return out
}

// FeedData appends data and, if a parser is attached, drives it forward by
// sending the new bytes into it.
func (sb *StreamBuffer) FeedData(data []byte) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.pb.Feed(data)
	if sb.cur == nil {
		return
	}
	inst := sb.cur
	inst.toParser <- nil
	sig := <-inst.fromParser
	if sig.done {
		sb.finishLocked(inst, sig.err)
	}
}

// FeedEOF throws EofStream into any attached parser and detaches it once it
// terminates.
func (sb *StreamBuffer) FeedEOF() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.cur == nil {
		return
	}
	inst := sb.cur
	inst.toParser <- aioerr.ErrEofStream
	sig := <-inst.fromParser
	for !sig.done {
		inst.toParser <- aioerr.ErrEofStream
		sig = <-inst.fromParser
	}
	sb.finishLocked(inst, sig.err)
}

// SetException records err; if a parser is attached, places it on the
// parser's own DataBuffer, otherwise arms it for the next SetParser call.
func (sb *StreamBuffer) SetException(err error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.exc = err
	if sb.cur != nil {
		sb.cur.out.SetException(err)
		sb.pb.moreFn = nil
		sb.cur = nil
	}
}

func (sb *StreamBuffer) detachLocked() {
	inst := sb.cur
	inst.toParser <- aioerr.ErrEofStream
	sig := <-inst.fromParser
	for !sig.done {
		inst.toParser <- aioerr.ErrEofStream
		sig = <-inst.fromParser
	}
	sb.finishLocked(inst, sig.err)
}

func (sb *StreamBuffer) finishLocked(inst *parserInstance, err error) {
	sb.pb.moreFn = nil
	sb.cur = nil
	if err != nil && err != aioerr.ErrEofStream {
		inst.out.SetException(err)
	}
}
