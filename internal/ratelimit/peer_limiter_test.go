package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerLimiter_ConcurrentLimit(t *testing.T) {
	l := NewPeerLimiter(2, 100)

	assert.True(t, l.Allow(1000))
	assert.True(t, l.Allow(1000))
	assert.False(t, l.Allow(1000), "third concurrent connection")
	assert.True(t, l.Allow(1001), "other peers are independent")

	l.Release(1000)
	assert.Equal(t, 1, l.GetStats(1000))
	assert.True(t, l.Allow(1000))
}

func TestPeerLimiter_Rate(t *testing.T) {
	l := NewPeerLimiter(100, 3)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow(7) {
			allowed++
			l.Release(7)
		}
	}
	assert.Equal(t, 3, allowed, "burst equals the per-second rate")
}

func TestPeerLimiter_ReleaseUnknown(t *testing.T) {
	l := NewPeerLimiter(1, 1)
	l.Release(42)
	assert.Zero(t, l.GetStats(42))
}

func TestPeerLimiter_SetLimits(t *testing.T) {
	l := NewPeerLimiter(1, 100)
	assert.True(t, l.Allow(5))
	assert.False(t, l.Allow(5))

	l.SetLimits(2, 100)
	assert.True(t, l.Allow(5))
}
