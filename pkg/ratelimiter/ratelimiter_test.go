package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketTakeToken(t *testing.T) {
	tb := NewTokenBucket(2, 1)

	assert.True(t, tb.TakeToken())
	assert.True(t, tb.TakeToken())
	assert.False(t, tb.TakeToken(), "bucket should be empty")
}

func TestFixedWindowWithinQuota(t *testing.T) {
	fw := NewFixedWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, fw.TakeToken())
	}
	assert.False(t, fw.TakeToken(), "quota spent")
}

func TestFixedWindowWaitSleepsOutWindow(t *testing.T) {
	fw := NewFixedWindow(1, 50*time.Millisecond)

	var slept time.Duration
	fw.sleep = func(d time.Duration) {
		slept = d
		// Simulate the window elapsing while asleep.
		fw.mu.Lock()
		fw.lastReset = time.Now().Add(-fw.window)
		fw.mu.Unlock()
	}

	fw.Wait() // consumes the only token
	fw.Wait() // must sleep out the window remainder

	assert.Greater(t, slept, time.Duration(0))
	assert.False(t, fw.TakeToken(), "token taken after the simulated reset")
}

func TestFixedWindowResets(t *testing.T) {
	fw := NewFixedWindow(1, 10*time.Millisecond)

	assert.True(t, fw.TakeToken())
	assert.False(t, fw.TakeToken())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, fw.TakeToken(), "new window refills the quota")
}
