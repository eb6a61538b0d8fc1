package session

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// LoginLimiter throttles login attempts per client address.
type LoginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewLoginLimiter allows perSecond attempts with the given burst per address.
func NewLoginLimiter(perSecond float64, burst int) *LoginLimiter {
	return &LoginLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether another attempt from r's address may proceed.
func (l *LoginLimiter) Allow(r *http.Request) bool {
	key := clientAddr(r)

	l.mu.Lock()
	defer l.mu.Unlock()

	// Bound memory; a reset only forgives past attempts.
	if len(l.limiters) > 10000 {
		l.limiters = make(map[string]*rate.Limiter)
	}
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
