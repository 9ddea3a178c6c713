package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowRefills(t *testing.T) {
	l := New(time.Minute, 0)
	defer l.Close()
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1", 3), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1", 3))
	assert.True(t, l.Allow("10.0.0.2", 3), "keys are independent")

	clock = clock.Add(20 * time.Second)
	assert.True(t, l.Allow("10.0.0.1", 3))
	assert.False(t, l.Allow("10.0.0.1", 3))
}

func TestBurstCapsBucket(t *testing.T) {
	l := New(time.Minute, 2)
	defer l.Close()
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("k", 60))
	assert.True(t, l.Allow("k", 60))
	assert.False(t, l.Allow("k", 60))

	clock = clock.Add(time.Hour)
	assert.True(t, l.Allow("k", 60))
	assert.True(t, l.Allow("k", 60))
	assert.False(t, l.Allow("k", 60))
}

func TestReset(t *testing.T) {
	l := New(time.Minute, 0)
	defer l.Close()
	assert.True(t, l.Allow("k", 1))
	assert.False(t, l.Allow("k", 1))
	l.Reset("k")
	assert.True(t, l.Allow("k", 1))
	l.Close()
	l.Close()
}
