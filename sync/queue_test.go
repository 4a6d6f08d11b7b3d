package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/task"
)

func TestQueuePutGetNowaitFIFOOrder(t *testing.T) {
	l := newRunningLoop(t)
	q := NewQueue(l, 0)
	require.NoError(t, q.PutNowait("a"))
	require.NoError(t, q.PutNowait("b"))

	v1, err := q.GetNowait()
	require.NoError(t, err)
	assert.Equal(t, "a", v1)

	v2, err := q.GetNowait()
	require.NoError(t, err)
	assert.Equal(t, "b", v2)
}

func TestQueueGetNowaitEmptyFails(t *testing.T) {
	l := newRunningLoop(t)
	q := NewQueue(l, 0)
	_, err := q.GetNowait()
	assert.ErrorIs(t, err, aioerr.ErrEmpty)
}

func TestQueuePutNowaitFullFails(t *testing.T) {
	l := newRunningLoop(t)
	q := NewQueue(l, 1)
	require.NoError(t, q.PutNowait("x"))
	assert.True(t, q.Full())
	err := q.PutNowait("y")
	assert.ErrorIs(t, err, aioerr.ErrFull)
}

func TestQueuePutParksWhenFullThenUnblocksOnGet(t *testing.T) {
	l := newRunningLoop(t)
	q := NewQueue(l, 1)
	require.NoError(t, q.PutNowait("first"))

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return nil, q.Put(y, "second")
	})
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tk.Done())

	v, err := q.GetNowait()
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	_, err = waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)

	v2, err := q.GetNowait()
	require.NoError(t, err)
	assert.Equal(t, "second", v2)
}

func TestQueueGetParksUntilPut(t *testing.T) {
	l := newRunningLoop(t)
	q := NewQueue(l, 0)

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return q.Get(y)
	})
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tk.Done())

	require.NoError(t, q.PutNowait("late"))
	v, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

func TestLIFOQueueOrdering(t *testing.T) {
	l := newRunningLoop(t)
	q := NewLIFOQueue(l, 0)
	require.NoError(t, q.PutNowait(1))
	require.NoError(t, q.PutNowait(2))
	require.NoError(t, q.PutNowait(3))

	v, err := q.GetNowait()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestPriorityQueueOrdering(t *testing.T) {
	l := newRunningLoop(t)
	less := func(a, b interface{}) bool { return a.(int) < b.(int) }
	q := NewPriorityQueue(l, 0, less)
	require.NoError(t, q.PutNowait(5))
	require.NoError(t, q.PutNowait(1))
	require.NoError(t, q.PutNowait(3))

	var got []int
	for q.Len() > 0 {
		v, err := q.GetNowait()
		require.NoError(t, err)
		got = append(got, v.(int))
	}
	assert.Equal(t, []int{1, 3, 5}, got)
}

func TestJoinableQueueTaskDoneAndJoin(t *testing.T) {
	l := newRunningLoop(t)
	jq := NewJoinableQueue(l, 0)

	require.NoError(t, jq.PutNowait("a"))
	require.NoError(t, jq.PutNowait("b"))

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return nil, jq.Join(y)
	})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, tk.Done(), "Join must wait until every item is marked done")

	require.NoError(t, jq.TaskDone())
	time.Sleep(10 * time.Millisecond)
	assert.False(t, tk.Done())

	require.NoError(t, jq.TaskDone())
	_, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
}

func TestJoinableQueueTaskDoneTooManyTimesFails(t *testing.T) {
	l := newRunningLoop(t)
	jq := NewJoinableQueue(l, 0)
	require.NoError(t, jq.PutNowait("a"))
	require.NoError(t, jq.TaskDone())
	assert.Error(t, jq.TaskDone())
}
