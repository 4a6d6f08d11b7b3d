package sync

import (
	"container/heap"
	"container/list"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/future"
	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

// storage is the pluggable ordering strategy behind Queue/LIFOQueue/
// PriorityQueue: each keeps the waiter/backpressure bookkeeping in qcore
// and differs only in which item comes out of Pop.
type storage interface {
	push(item interface{})
	pop() interface{}
	len() int
}

// fifoStorage backs Queue: first in, first out.
type fifoStorage struct{ l list.List }

func (s *fifoStorage) push(item interface{}) { s.l.PushBack(item) }
func (s *fifoStorage) pop() interface{} {
	el := s.l.Front()
	s.l.Remove(el)
	return el.Value
}
func (s *fifoStorage) len() int { return s.l.Len() }

// lifoStorage backs LIFOQueue: last in, first out.
type lifoStorage struct{ l list.List }

func (s *lifoStorage) push(item interface{}) { s.l.PushBack(item) }
func (s *lifoStorage) pop() interface{} {
	el := s.l.Back()
	s.l.Remove(el)
	return el.Value
}
func (s *lifoStorage) len() int { return s.l.Len() }

// priorityStorage backs PriorityQueue: a min-heap ordered by less.
type priorityStorage struct {
	items []interface{}
	less  func(a, b interface{}) bool
}

func (s *priorityStorage) Len() int            { return len(s.items) }
func (s *priorityStorage) Less(i, j int) bool  { return s.less(s.items[i], s.items[j]) }
func (s *priorityStorage) Swap(i, j int)       { s.items[i], s.items[j] = s.items[j], s.items[i] }
func (s *priorityStorage) Push(x interface{})  { s.items = append(s.items, x) }
func (s *priorityStorage) Pop() interface{} {
	old := s.items
	n := len(old)
	item := old[n-1]
	s.items = old[:n-1]
	return item
}

func (s *priorityStorage) push(item interface{}) { heap.Push(s, item) }
func (s *priorityStorage) pop() interface{}      { return heap.Pop(s) }
func (s *priorityStorage) len() int              { return len(s.items) }

// qcore is the FIFO-of-waiters machinery shared by every queue variant:
// bounded or unbounded, put/get park on the opposite side when needed, and
// put_nowait/get_nowait fail fast with ErrFull/ErrEmpty instead of parking.
type qcore struct {
	l          *loop.Loop
	maxsize    int
	store      storage
	getWaiters list.List // of *future.Future
	putWaiters list.List // of *future.Future
}

func newQcore(l *loop.Loop, maxsize int, store storage) *qcore {
	return &qcore{l: l, maxsize: maxsize, store: store}
}

func (q *qcore) full() bool { return q.maxsize > 0 && q.store.len() >= q.maxsize }

func (q *qcore) put(y *task.Yielder, item interface{}) error {
	for q.full() {
		fut := future.New(q.l)
		el := q.putWaiters.PushBack(fut)
		if _, err := y.Await(fut); err != nil {
			q.putWaiters.Remove(el)
			return err
		}
	}
	q.putNowaitLocked(item)
	return nil
}

func (q *qcore) putNowait(item interface{}) error {
	if q.full() {
		return aioerr.ErrFull
	}
	q.putNowaitLocked(item)
	return nil
}

func (q *qcore) putNowaitLocked(item interface{}) {
	if el := q.getWaiters.Front(); el != nil {
		q.getWaiters.Remove(el)
		el.Value.(*future.Future).SetResult(item)
		return
	}
	q.store.push(item)
}

func (q *qcore) get(y *task.Yielder) (interface{}, error) {
	for q.store.len() == 0 {
		fut := future.New(q.l)
		el := q.getWaiters.PushBack(fut)
		v, err := y.Await(fut)
		if err != nil {
			q.getWaiters.Remove(el)
			return nil, err
		}
		// A waiter can be resolved directly with an item (handed off by
		// putNowaitLocked) without ever touching q.store.
		return v, nil
	}
	return q.getNowaitLocked(), nil
}

func (q *qcore) getNowait() (interface{}, error) {
	if q.store.len() == 0 {
		return nil, aioerr.ErrEmpty
	}
	return q.getNowaitLocked(), nil
}

func (q *qcore) getNowaitLocked() interface{} {
	item := q.store.pop()
	if el := q.putWaiters.Front(); el != nil {
		q.putWaiters.Remove(el)
		el.Value.(*future.Future).SetResult(nil)
	}
	return item
}

func (q *qcore) len() int  { return q.store.len() }
func (q *qcore) empty() bool { return q.store.len() == 0 }

// Queue is a FIFO queue with optional maxsize.
type Queue struct{ *qcore }

// NewQueue creates a Queue; maxsize<=0 means unbounded.
func NewQueue(l *loop.Loop, maxsize int) *Queue {
	return &Queue{newQcore(l, maxsize, &fifoStorage{})}
}

func (q *Queue) Put(y *task.Yielder, item interface{}) error { return q.put(y, item) }
func (q *Queue) Get(y *task.Yielder) (interface{}, error)    { return q.get(y) }
func (q *Queue) PutNowait(item interface{}) error            { return q.putNowait(item) }
func (q *Queue) GetNowait() (interface{}, error)             { return q.getNowait() }
func (q *Queue) Len() int                                    { return q.len() }
func (q *Queue) Empty() bool                                 { return q.empty() }
func (q *Queue) Full() bool                                  { return q.full() }

// LIFOQueue is Queue's last-in-first-out variant.
type LIFOQueue struct{ *qcore }

func NewLIFOQueue(l *loop.Loop, maxsize int) *LIFOQueue {
	return &LIFOQueue{newQcore(l, maxsize, &lifoStorage{})}
}

func (q *LIFOQueue) Put(y *task.Yielder, item interface{}) error { return q.put(y, item) }
func (q *LIFOQueue) Get(y *task.Yielder) (interface{}, error)    { return q.get(y) }
func (q *LIFOQueue) PutNowait(item interface{}) error            { return q.putNowait(item) }
func (q *LIFOQueue) GetNowait() (interface{}, error)             { return q.getNowait() }
func (q *LIFOQueue) Len() int                                    { return q.len() }
func (q *LIFOQueue) Empty() bool                                 { return q.empty() }
func (q *LIFOQueue) Full() bool                                  { return q.full() }

// PriorityQueue pops the least item per less, ties broken arbitrarily.
type PriorityQueue struct{ *qcore }

// NewPriorityQueue creates a PriorityQueue ordered by less(a, b) == "a
// should come out before b".
func NewPriorityQueue(l *loop.Loop, maxsize int, less func(a, b interface{}) bool) *PriorityQueue {
	return &PriorityQueue{newQcore(l, maxsize, &priorityStorage{less: less})}
}

func (q *PriorityQueue) Put(y *task.Yielder, item interface{}) error { return q.put(y, item) }
func (q *PriorityQueue) Get(y *task.Yielder) (interface{}, error)    { return q.get(y) }
func (q *PriorityQueue) PutNowait(item interface{}) error            { return q.putNowait(item) }
func (q *PriorityQueue) GetNowait() (interface{}, error)             { return q.getNowait() }
func (q *PriorityQueue) Len() int                                    { return q.len() }
func (q *PriorityQueue) Empty() bool                                 { return q.empty() }
func (q *PriorityQueue) Full() bool                                  { return q.full() }

// JoinableQueue adds TaskDone/Join bookkeeping over a FIFO Queue: Join
// parks until every item Put has been matched by a TaskDone.
type JoinableQueue struct {
	*Queue
	unfinished int
	finished   *Event
}

// NewJoinableQueue creates an empty JoinableQueue.
func NewJoinableQueue(l *loop.Loop, maxsize int) *JoinableQueue {
	jq := &JoinableQueue{Queue: NewQueue(l, maxsize), finished: NewEvent(l)}
	jq.finished.Set()
	return jq
}

// Put enqueues item and counts it against the unfinished total.
func (jq *JoinableQueue) Put(y *task.Yielder, item interface{}) error {
	if err := jq.Queue.Put(y, item); err != nil {
		return err
	}
	jq.unfinished++
	jq.finished.Clear()
	return nil
}

// PutNowait is PutNowait plus unfinished-count bookkeeping.
func (jq *JoinableQueue) PutNowait(item interface{}) error {
	if err := jq.Queue.PutNowait(item); err != nil {
		return err
	}
	jq.unfinished++
	jq.finished.Clear()
	return nil
}

// TaskDone marks one previously Put item as processed, returning
// ErrInvalidState if called more times than items were Put.
func (jq *JoinableQueue) TaskDone() error {
	if jq.unfinished <= 0 {
		return aioerr.Wrapf(aioerr.ErrInvalidState, "task_done() called too many times")
	}
	jq.unfinished--
	if jq.unfinished == 0 {
		jq.finished.Set()
	}
	return nil
}

// Join parks until every Put item has a matching TaskDone.
func (jq *JoinableQueue) Join(y *task.Yielder) error {
	return jq.finished.Wait(y)
}
