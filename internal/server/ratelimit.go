package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-caller and global request rate limits with
// token buckets.
type RateLimiter struct {
	mu        sync.Mutex
	global    *rate.Limiter
	callers   map[string]*rate.Limiter
	perCaller rate.Limit
	burst     int
}

// NewRateLimiter creates a rate limiter. globalRPM is the total
// requests/minute across all callers (<= 0 disables the global bucket);
// perCallerRPM is the per-caller requests/minute.
func NewRateLimiter(globalRPM, perCallerRPM int) *RateLimiter {
	rl := &RateLimiter{
		callers:   make(map[string]*rate.Limiter),
		perCaller: rate.Limit(float64(perCallerRPM) / 60.0),
		burst:     max(perCallerRPM, 1),
	}
	if globalRPM > 0 {
		rl.global = rate.NewLimiter(rate.Limit(float64(globalRPM)/60.0), globalRPM)
	}
	return rl
}

// Allow reports whether a request from caller may proceed.
func (rl *RateLimiter) Allow(caller string) bool {
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	rl.mu.Lock()
	limiter, ok := rl.callers[caller]
	if !ok {
		limiter = rate.NewLimiter(rl.perCaller, rl.burst)
		rl.callers[caller] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}
