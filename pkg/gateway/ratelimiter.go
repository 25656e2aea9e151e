package gateway

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter is a per-key sliding window limiter.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	requests map[string][]time.Time
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows limit requests per key per minute. Idle keys are
// evicted every cleanupInterval; zero disables the cleanup goroutine.
func NewRateLimiter(limit int, cleanupInterval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:    limit,
		requests: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go rl.cleanupLoop(cleanupInterval)
	}
	return rl
}

// Allow records a request for key and reports whether it is within the limit.
// A negative limit disables limiting.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit < 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := prune(rl.requests[key], now)
	if len(recent) >= rl.limit {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

// RetryAfter returns the whole seconds until key may send again.
func (rl *RateLimiter) RetryAfter(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	reqs := rl.requests[key]
	if len(reqs) == 0 {
		return 0
	}
	wait := rateWindow - rl.now().Sub(reqs[0])
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, reqs := range rl.requests {
		if recent := prune(reqs, now); len(recent) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = recent
		}
	}
}

// prune drops timestamps that left the window. reqs is ordered oldest first.
func prune(reqs []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(reqs) && now.Sub(reqs[i]) >= rateWindow {
		i++
	}
	return reqs[i:]
}
