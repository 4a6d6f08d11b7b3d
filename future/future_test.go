package future

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler queues CallSoon callbacks and runs them in order on flush,
// which is all the Future tests need from the loop's CallSoon contract.
type fakeScheduler struct {
	calls []func()
}

func (s *fakeScheduler) CallSoon(cb func()) { s.calls = append(s.calls, cb) }

func (s *fakeScheduler) flush() {
	for len(s.calls) > 0 {
		cb := s.calls[0]
		s.calls = s.calls[1:]
		cb()
	}
}

func TestSetResultTransitionsToFinished(t *testing.T) {
	sched := &fakeScheduler{}
	f := New(sched)
	assert.Equal(t, Pending, f.State())

	require.NoError(t, f.SetResult(42))
	assert.Equal(t, Finished, f.State())
	v, err := f.Result()
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSetResultTwiceFails(t *testing.T) {
	sched := &fakeScheduler{}
	f := New(sched)
	require.NoError(t, f.SetResult(1))
	assert.Error(t, f.SetResult(2))
}

func TestResultBeforeDoneIsInvalidState(t *testing.T) {
	f := New(&fakeScheduler{})
	_, err := f.Result()
	assert.ErrorContains(t, err, "invalid future state")
}

func TestCancelIsIdempotentAndOneShot(t *testing.T) {
	sched := &fakeScheduler{}
	f := New(sched)
	assert.True(t, f.Cancel())
	assert.True(t, f.Cancelled())
	assert.False(t, f.Cancel())

	require.Error(t, f.SetResult(1))
}

func TestDoneCallbackFiresOnceViaScheduler(t *testing.T) {
	sched := &fakeScheduler{}
	f := New(sched)

	var got interface{}
	f.AddDoneCallback(func(done *Future) {
		v, _ := done.Result()
		got = v
	})

	require.NoError(t, f.SetResult("hello"))
	assert.Nil(t, got, "callback must not run inline from SetResult")
	sched.flush()
	assert.Equal(t, "hello", got)
}

func TestAddDoneCallbackOnAlreadyDoneFutureSchedulesImmediately(t *testing.T) {
	sched := &fakeScheduler{}
	f := New(sched)
	require.NoError(t, f.SetResult(7))
	sched.flush()

	fired := false
	f.AddDoneCallback(func(*Future) { fired = true })
	assert.False(t, fired)
	sched.flush()
	assert.True(t, fired)
}

func TestRemoveDoneCallback(t *testing.T) {
	sched := &fakeScheduler{}
	f := New(sched)

	fired := false
	tok := f.AddDoneCallback(func(*Future) { fired = true })
	assert.Equal(t, 1, f.RemoveDoneCallback(tok))
	assert.Equal(t, 0, f.RemoveDoneCallback(tok), "removing twice is a no-op")

	require.NoError(t, f.SetResult(nil))
	sched.flush()
	assert.False(t, fired)
}

func TestMarkAndConsumeAwaited(t *testing.T) {
	f := New(&fakeScheduler{})
	assert.False(t, f.MarkAwaited())
	assert.True(t, f.ConsumeAwaited())
	assert.False(t, f.ConsumeAwaited(), "second consume sees it already cleared")
}
