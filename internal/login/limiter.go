package login

import (
	"sync"
	"time"

	"tenant-auth/internal/apperr"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

var ErrTooManyAttempts = apperr.New(apperr.KindTooManyRequests, "Too many login attempts, try again later")

// Limiter is a token bucket per key. Buckets live in a bounded LRU, so a
// flood of distinct keys evicts the oldest ones instead of growing memory.
type Limiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
	every   rate.Limit
	burst   int
}

// NewLimiter allows burst attempts per key, refilled at one per interval.
func NewLimiter(interval time.Duration, burst, size int) (*Limiter, error) {
	if interval <= 0 || burst <= 0 {
		return nil, apperr.New(apperr.KindInternal, "login limiter needs a positive interval and burst")
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, err
	}
	return &Limiter{buckets: cache, every: rate.Every(interval), burst: burst}, nil
}

// Allow consumes one attempt for key. A nil Limiter allows everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.buckets.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Reset forgets key, typically after a successful login.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.buckets.Remove(key)
}
