package ratelimiter

import (
	"sync"
	"time"
)

type RateLimiter interface {
	TakeToken() bool
	Wait()
}

// TokenBucket is a classic token-bucket limiter refilled at a fixed rate.
type TokenBucket struct {
	capacity   int64
	tokens     int64
	refillRate int64
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}

	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) TakeToken() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int64(elapsed.Seconds()) * tb.refillRate
	tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
	tb.lastRefill = now

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) Wait() {
	waitTime := time.Second / time.Duration(tb.refillRate)
	if waitTime < 100*time.Millisecond {
		waitTime = 100 * time.Millisecond
	}

	for !tb.TakeToken() {
		time.Sleep(waitTime)
	}
}

// FixedWindow allows up to `quota` calls per window. When the quota is
// exhausted, Wait sleeps until the window resets. This matches APIs that
// publish a per-minute request budget rather than a refill rate.
type FixedWindow struct {
	quota     int
	window    time.Duration
	tokens    int
	lastReset time.Time
	mu        sync.Mutex

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

func NewFixedWindow(quota int, window time.Duration) *FixedWindow {
	if quota <= 0 {
		quota = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindow{
		quota:     quota,
		window:    window,
		tokens:    quota,
		lastReset: time.Now(),
		sleep:     time.Sleep,
	}
}

func (fw *FixedWindow) TakeToken() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.resetLocked()
	if fw.tokens > 0 {
		fw.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available, sleeping out the remainder of the
// current window if the quota is spent.
func (fw *FixedWindow) Wait() {
	fw.mu.Lock()

	fw.resetLocked()
	if fw.tokens > 0 {
		fw.tokens--
		fw.mu.Unlock()
		return
	}

	remaining := fw.window - time.Since(fw.lastReset)
	fw.mu.Unlock()

	if remaining > 0 {
		fw.sleep(remaining)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.resetLocked()
	if fw.tokens > 0 {
		fw.tokens--
	}
}

func (fw *FixedWindow) resetLocked() {
	if time.Since(fw.lastReset) >= fw.window {
		fw.tokens = fw.quota
		fw.lastReset = time.Now()
	}
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
