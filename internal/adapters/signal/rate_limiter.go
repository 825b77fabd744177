package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/dkeye/peercall/internal/core"
)

// RateLimiter keeps one token bucket per client. A non-positive limit disables it.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[core.ClientID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[core.ClientID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) Allow(cid core.ClientID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	l, ok := rl.limiters[cid]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[cid] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

func (rl *RateLimiter) Forget(cid core.ClientID) {
	rl.mu.Lock()
	delete(rl.limiters, cid)
	rl.mu.Unlock()
}
