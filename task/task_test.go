package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/aiogo/aioerr"
	"github.com/xtaci/aiogo/loop"
)

func newTestLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New()
	require.NoError(t, err)
	go l.RunForever()
	t.Cleanup(func() {
		l.Stop()
		l.Close()
	})
	return l
}

func waitDone(t *testing.T, f interface{ Done() bool }, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !f.Done() {
		if time.Now().After(deadline) {
			t.Fatal("task never completed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTaskReturnsValue(t *testing.T) {
	l := newTestLoop(t)
	tk := New(l, func(y *Yielder) (interface{}, error) {
		return 7, nil
	})
	waitDone(t, tk, 2*time.Second)
	v, err := tk.Result()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestTaskAwaitsSleep(t *testing.T) {
	l := newTestLoop(t)
	start := time.Now()
	tk := New(l, func(y *Yielder) (interface{}, error) {
		v, err := y.Await(Sleep(l, 30*time.Millisecond, "woke"))
		return v, err
	})
	waitDone(t, tk, 2*time.Second)
	v, err := tk.Result()
	require.NoError(t, err)
	assert.Equal(t, "woke", v)
	assert.True(t, time.Since(start) >= 30*time.Millisecond)
}

func TestTaskPropagatesBodyError(t *testing.T) {
	l := newTestLoop(t)
	boom := aioerr.ErrUnsupported
	tk := New(l, func(y *Yielder) (interface{}, error) {
		return nil, boom
	})
	waitDone(t, tk, 2*time.Second)
	_, err := tk.Result()
	assert.ErrorIs(t, err, boom)
}

func TestTaskCancelWhileSuspended(t *testing.T) {
	l := newTestLoop(t)
	tk := New(l, func(y *Yielder) (interface{}, error) {
		_, err := y.Await(Sleep(l, time.Hour, nil))
		return nil, err
	})
	// Give the coroutine a chance to reach its suspend point.
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tk.Cancel())
	waitDone(t, tk, 2*time.Second)
	assert.True(t, tk.Cancelled())
}

func TestYieldSurrendersControlWithoutAwaiting(t *testing.T) {
	l := newTestLoop(t)
	iterations := 0
	tk := New(l, func(y *Yielder) (interface{}, error) {
		for i := 0; i < 3; i++ {
			iterations++
			y.Yield()
		}
		return iterations, nil
	})
	waitDone(t, tk, 2*time.Second)
	v, err := tk.Result()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
