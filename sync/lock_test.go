package sync

import (
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/aiogo/loop"
	"github.com/xtaci/aiogo/task"
)

func newRunningLoop(t *testing.T) *loop.Loop {
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

func waitTaskDone(t *testing.T, tk *task.Task, timeout time.Duration) (interface{}, error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !tk.Done() {
		if time.Now().After(deadline) {
			t.Fatal("task never completed")
		}
		time.Sleep(time.Millisecond)
	}
	return tk.Result()
}

func TestLockAcquireReleaseUncontended(t *testing.T) {
	l := newRunningLoop(t)
	m := NewLock(l)
	assert.False(t, m.Locked())

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return nil, m.Acquire(y)
	})
	_, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
	assert.True(t, m.Locked())

	require.NoError(t, m.Release())
	assert.False(t, m.Locked())
}

func TestLockReleaseWithoutAcquireFails(t *testing.T) {
	l := newRunningLoop(t)
	m := NewLock(l)
	assert.Error(t, m.Release())
}

func TestLockSerializesContenders(t *testing.T) {
	l := newRunningLoop(t)
	m := NewLock(l)

	var mu stdsync.Mutex
	order := []int{}

	release1 := NewEvent(l)
	release2 := NewEvent(l)

	runHolder := func(id int, holdRelease *Event) *task.Task {
		return task.New(l, func(y *task.Yielder) (interface{}, error) {
			if err := m.Acquire(y); err != nil {
				return nil, err
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			if err := holdRelease.Wait(y); err != nil {
				return nil, err
			}
			return nil, m.Release()
		})
	}

	tk1 := runHolder(1, release1)

	deadline := time.Now().Add(time.Second)
	for !m.Locked() {
		if time.Now().After(deadline) {
			t.Fatal("first holder never acquired the lock")
		}
		time.Sleep(time.Millisecond)
	}

	tk2 := runHolder(2, release2)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{1}, order, "second contender must stay parked")
	mu.Unlock()

	release1.Set()
	_, err := waitTaskDone(t, tk1, time.Second)
	require.NoError(t, err)

	deadline = time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second holder never acquired the lock")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, []int{1, 2}, order)
	release2.Set()
	_, err = waitTaskDone(t, tk2, time.Second)
	require.NoError(t, err)
}

func TestLockWithLockReleasesOnError(t *testing.T) {
	l := newRunningLoop(t)
	m := NewLock(l)
	boom := assertError("boom")

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return nil, m.WithLock(y, func() error { return boom })
	})
	_, err := waitTaskDone(t, tk, time.Second)
	assert.Equal(t, boom, err)
	assert.False(t, m.Locked())
}

type assertError string

func (e assertError) Error() string { return string(e) }
