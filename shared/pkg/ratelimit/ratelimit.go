package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles outgoing API calls per key (an account ID)
type Limiter struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a new rate limiter
// rps: requests per second (<= 0 disables limiting)
// burst: maximum burst size
func NewLimiter(rps float64, burst int) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*entry),
		rps:      limit,
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for the given key
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()

	return e.limiter
}

// Allow reports whether a call may proceed right now
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Wait blocks until a call for key may proceed or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.GetLimiter(key).Wait(ctx)
}

// CleanupOldLimiters removes limiters that haven't been used for maxAge
func (l *Limiter) CleanupOldLimiters(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}
