package aioerr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesSentinelIdentity(t *testing.T) {
	err := Wrap(ErrTimeout, "waiting for socket")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "waiting for socket")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "no error here"))
	assert.Nil(t, Wrapf(nil, "no error %d", 1))
}

func TestWrapfFormats(t *testing.T) {
	err := Wrapf(ErrFull, "queue %q at capacity %d", "jobs", 10)
	assert.True(t, errors.Is(err, ErrFull))
	assert.Contains(t, err.Error(), `"jobs" at capacity 10`)
}

func TestIncompleteReadErrorUnwraps(t *testing.T) {
	err := &IncompleteReadError{Partial: []byte("ab"), Expected: 5}
	assert.True(t, errors.Is(err, ErrIncompleteRead))
	assert.Contains(t, err.Error(), "got 2 of 5 bytes")
}

func TestLineTooLongErrorUnwraps(t *testing.T) {
	err := &LineTooLongError{Limit: 1024}
	assert.True(t, errors.Is(err, ErrLineTooLong))
	assert.Contains(t, err.Error(), "limit 1024")
}
