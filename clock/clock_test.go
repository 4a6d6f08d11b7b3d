package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderingAndArithmetic(t *testing.T) {
	t0 := Now()
	t1 := t0.Add(10 * time.Millisecond)

	assert.True(t, t1.After(t0))
	assert.True(t, t0.Before(t1))
	assert.Equal(t, 10*time.Millisecond, t1.Sub(t0))
	assert.False(t, t0.IsZero())
}

func TestZeroValue(t *testing.T) {
	var z Time
	assert.True(t, z.IsZero())
}

func TestUntilNegativeAfterDeadline(t *testing.T) {
	past := Now().Add(-time.Hour)
	assert.True(t, past.Until() < 0)
}
