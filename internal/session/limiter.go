package session

import (
	"sync"

	"golang.org/x/time/rate"
)

// unlockLimiter throttles decryption attempts per database identity using a
// token bucket, so the daemon cannot be used to brute-force a master
// password faster than the configured rate.
type unlockLimiter struct {
	limiters   map[string]*rate.Limiter
	mu         sync.RWMutex
	rateLimit  rate.Limit
	burstLimit int
}

// newUnlockLimiter allows perMinute attempts per identity with the given
// burst. A non-positive rate disables throttling.
func newUnlockLimiter(perMinute float64, burst int) *unlockLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &unlockLimiter{
		limiters:   make(map[string]*rate.Limiter),
		rateLimit:  limit,
		burstLimit: burst,
	}
}

// Allow consumes one attempt for identity.
func (u *unlockLimiter) Allow(identity string) bool {
	return u.getLimiter(identity).Allow()
}

func (u *unlockLimiter) getLimiter(identity string) *rate.Limiter {
	u.mu.RLock()
	limiter, exists := u.limiters[identity]
	u.mu.RUnlock()

	if exists {
		return limiter
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = u.limiters[identity]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(u.rateLimit, u.burstLimit)
	u.limiters[identity] = limiter
	return limiter
}
