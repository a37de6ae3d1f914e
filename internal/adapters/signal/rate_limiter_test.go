package signal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiterForgetsIdleHosts(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		assert.True(t, rl.Allow(fmt.Sprintf("10.0.1.%d", i)))
	}
	assert.Len(t, rl.history, 50)

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("10.0.0.9"))
	assert.Len(t, rl.history, 51)

	now = now.Add(45 * time.Second)
	assert.True(t, rl.Allow("10.0.0.10"))
	assert.Len(t, rl.history, 2)
	assert.Contains(t, rl.history, "10.0.0.9")
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("x"))
	assert.True(t, NewRateLimiter(0, time.Minute).Allow("x"))
}

func TestRemoteHost(t *testing.T) {
	assert.Equal(t, "10.0.0.1", remoteHost("10.0.0.1:5555"))
	assert.Equal(t, "garbage", remoteHost("garbage"))
}
