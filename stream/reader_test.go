package stream

import (
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

func TestStreamReaderReadExactlyAcrossFeeds(t *testing.T) {
	l := newRunningLoop(t)
	r := NewStreamReader(l, 0)

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return r.ReadExactly(y, 5)
	})

	r.FeedData([]byte("ab"))
	r.FeedData([]byte("cde"))

	v, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), v)
}

func TestStreamReaderReadExactlyIncompleteAtEOF(t *testing.T) {
	l := newRunningLoop(t)
	r := NewStreamReader(l, 0)

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return r.ReadExactly(y, 10)
	})

	r.FeedData([]byte("abc"))
	r.FeedEOF()

	_, err := waitTaskDone(t, tk, time.Second)
	require.Error(t, err)
}

func TestStreamReaderReadLine(t *testing.T) {
	l := newRunningLoop(t)
	r := NewStreamReader(l, 0)

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return r.ReadLine(y)
	})

	r.FeedData([]byte("partial"))
	r.FeedData([]byte(" line\nrest"))

	v, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "partial line\n", string(v.([]byte)))
}

func TestStreamReaderReadLineTooLong(t *testing.T) {
	l := newRunningLoop(t)
	r := NewStreamReader(l, 4)

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return r.ReadLine(y)
	})

	r.FeedData([]byte("way too long with no newline"))

	_, err := waitTaskDone(t, tk, time.Second)
	require.Error(t, err)
}

func TestStreamReaderReadNegativeUntilEOF(t *testing.T) {
	l := newRunningLoop(t)
	r := NewStreamReader(l, 0)

	tk := task.New(l, func(y *task.Yielder) (interface{}, error) {
		return r.Read(y, -1)
	})

	r.FeedData([]byte("chunk1"))
	r.FeedData([]byte("chunk2"))
	r.FeedEOF()

	v, err := waitTaskDone(t, tk, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "chunk1chunk2", string(v.([]byte)))
}

func TestStreamReaderAtEOF(t *testing.T) {
	l := newRunningLoop(t)
	r := NewStreamReader(l, 0)
	assert.False(t, r.AtEOF())
	r.FeedEOF()
	assert.True(t, r.AtEOF())
}
