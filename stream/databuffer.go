package stream

import (
	"sync"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
)

// DataBuffer is a queue of already-framed items plus an eof flag and
// optional exception, with at most one awaiter at a time. FeedData either
// resolves the waiter directly or enqueues; Read returns the next item,
// resolving with (nil, nil) after eof.
type DataBuffer struct {
	mu sync.Mutex

	loop future.Scheduler

	items  [][]byte
	eof    bool
	err    error
	waiter *future.Future
}

// NewDataBuffer creates an empty DataBuffer bound to loop (needed so that
// Read's waiter Future schedules its done-callbacks the way every other
// Future in the runtime does).
func NewDataBuffer(loop future.Scheduler) *DataBuffer {
	return &DataBuffer{loop: loop}
}

// FeedData appends item, the way a parser emits a framed item as soon as it
// is decoded.
func (d *DataBuffer) FeedData(item []byte) {
	d.mu.Lock()
	if d.waiter != nil {
		w := d.waiter
		d.waiter = nil
		d.mu.Unlock()
		w.SetResult(item)
		return
	}
	d.items = append(d.items, item)
	d.mu.Unlock()
}

// FeedEOF marks the buffer exhausted once queued items are drained.
func (d *DataBuffer) FeedEOF() {
	d.mu.Lock()
	d.eof = true
	if d.waiter != nil && len(d.items) == 0 {
		w := d.waiter
		d.waiter = nil
		d.mu.Unlock()
		w.SetResult(nil)
		return
	}
	d.mu.Unlock()
}

// SetException arms err (e.g. a parser's "line too long" failure) to be
// delivered once queued items are drained.
func (d *DataBuffer) SetException(err error) {
	d.mu.Lock()
	d.err = err
	if d.waiter != nil && len(d.items) == 0 {
		w := d.waiter
		d.waiter = nil
		d.mu.Unlock()
		w.SetException(err)
		return
	}
	d.mu.Unlock()
}

// Read returns a Future resolving with the next item, the stored
// exception, or nil at EOF — in that priority order.
func (d *DataBuffer) Read() *future.Future {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.items) > 0 {
		item := d.items[0]
		d.items = d.items[1:]
		fut := future.New(d.loop)
		fut.SetResult(item)
		return fut
	}
	if d.err != nil {
		fut := future.New(d.loop)
		fut.SetException(d.err)
		return fut
	}
	if d.eof {
		fut := future.New(d.loop)
		fut.SetResult(nil)
		return fut
	}
	if d.waiter != nil {
		fut := future.New(d.loop)
		fut.SetException(aioerr.Wrapf(aioerr.ErrInvalidState, "DataBuffer already has a waiter"))
		return fut
	}
	d.waiter = future.New(d.loop)
	return d.waiter
}
