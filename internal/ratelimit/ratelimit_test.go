package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	l := New(2, 10*time.Millisecond)
	fake := time.Now()
	l.now = func() time.Time { return fake }

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst exhausted")

	fake = fake.Add(25 * time.Millisecond)
	assert.True(t, l.Allow())
}
