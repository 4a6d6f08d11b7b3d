package loop

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSignalHandlerRejectsUncatchable(t *testing.T) {
	l := newTestLoop(t)
	err := l.AddSignalHandler(syscall.SIGKILL, func() {})
	assert.ErrorIs(t, err, ErrSignalUncatchable)
}

func TestAddSignalHandlerInvokesCallbackOnSignal(t *testing.T) {
	l := newTestLoop(t)
	runUntilDone(t, l, 2*time.Second)

	fired := make(chan struct{})
	require.NoError(t, l.AddSignalHandler(syscall.SIGUSR1, func() {
		close(fired)
	}))

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler never ran")
	}
}

func TestRemoveSignalHandler(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, l.AddSignalHandler(syscall.SIGUSR2, func() {}))
	assert.True(t, l.RemoveSignalHandler(syscall.SIGUSR2))
	assert.False(t, l.RemoveSignalHandler(syscall.SIGUSR2))
}
