package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunInExecutorDeliversResultOnLoop(t *testing.T) {
	l := newTestLoop(t)
	runUntilDone(t, l, 2*time.Second)

	fut := l.RunInExecutor(nil, func() (interface{}, error) {
		return 99, nil
	})
	v := waitFuture(t, fut, 2*time.Second)
	assert.Equal(t, 99, v)
}

func TestRunInExecutorPropagatesError(t *testing.T) {
	l := newTestLoop(t)
	runUntilDone(t, l, 2*time.Second)

	boom := assert.AnError
	fut := l.RunInExecutor(nil, func() (interface{}, error) {
		return nil, boom
	})
	deadline := time.Now().Add(2 * time.Second)
	for !fut.Done() {
		if time.Now().After(deadline) {
			t.Fatal("future never completed")
		}
		time.Sleep(time.Millisecond)
	}
	_, err := fut.Result()
	assert.ErrorIs(t, err, boom)
}

func TestGetAddrInfoResolvesLocalhost(t *testing.T) {
	l := newTestLoop(t)
	runUntilDone(t, l, 2*time.Second)

	fut := l.GetAddrInfo(context.Background(), "localhost")
	v := waitFuture(t, fut, 2*time.Second)
	addrs, ok := v.([]string)
	assert.True(t, ok)
	assert.NotEmpty(t, addrs)
}
