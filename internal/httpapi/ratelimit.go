package httpapi

import (
	"sync"
	"time"
)

// tokenBucket is a simple per-key token-bucket limiter, refilled at a
// fixed rate per second.
type tokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	rate    int
}

type bucketState struct {
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(ratePerSecond int) *tokenBucket {
	return &tokenBucket{buckets: map[string]*bucketState{}, rate: ratePerSecond}
}

// Allow reports whether key has capacity for one more request.
func (b *tokenBucket) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, ok := b.buckets[key]
	if !ok {
		state = &bucketState{tokens: float64(b.rate), lastRefill: now}
		b.buckets[key] = state
	}

	elapsed := now.Sub(state.lastRefill).Seconds()
	state.tokens += elapsed * float64(b.rate)
	if state.tokens > float64(b.rate) {
		state.tokens = float64(b.rate)
	}
	state.lastRefill = now

	if state.tokens < 1 {
		return false
	}
	state.tokens--
	return true
}
