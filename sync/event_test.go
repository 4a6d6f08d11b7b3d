package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/aiogo/task"
)

func TestEventWaitReturnsImmediatelyWhenAlreadySet(t *testing.T) {
	l := newRunningLoop(t)
	e := NewEvent(l)
	e.Set()
	assert.True(t, e.IsSet())

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return nil, e.Wait(y)
	})
	_, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
}

func TestEventWaitParksThenWakesOnSet(t *testing.T) {
	l := newRunningLoop(t)
	e := NewEvent(l)

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return nil, e.Wait(y)
	})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, tk.Done())

	e.Set()
	_, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
}

func TestEventClearResetsFlag(t *testing.T) {
	l := newRunningLoop(t)
	e := NewEvent(l)
	e.Set()
	e.Clear()
	assert.False(t, e.IsSet())
}

func TestEventSetWakesAllWaiters(t *testing.T) {
	l := newRunningLoop(t)
	e := NewEvent(l)

	tk1 := task.New(l, func(y *task.Yielder) (interface{}, error) { return nil, e.Wait(y) })
	tk2 := task.New(l, func(y *task.Yielder) (interface{}, error) { return nil, e.Wait(y) })

	time.Sleep(20 * time.Millisecond)
	e.Set()

	_, err := waitTaskDone(t, tk1, time.Second)
	require.NoError(t, err)
	_, err = waitTaskDone(t, tk2, time.Second)
	require.NoError(t, err)
}
