// Package ratelimit throttles probes and admin calls per client.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter allows rate events per window for a single entity, with bursts up
// to rate.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a Limiter that allows rate requests per window.
func New(n int, window time.Duration) *Limiter {
	return &Limiter{lim: rate.NewLimiter(every(n, window), n)}
}

// Allow returns true if the request is within the rate limit.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

func every(n int, window time.Duration) rate.Limit {
	if n <= 0 || window <= 0 {
		return rate.Inf
	}
	return rate.Every(window / time.Duration(n))
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// Keyed holds one limiter per key, typically a client address. Idle keys are
// pruned lazily, at most once per window.
type Keyed struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	n         int
	window    time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewKeyed creates a Keyed limiter that allows n requests per window per key.
func NewKeyed(n int, window time.Duration) *Keyed {
	return &Keyed{
		visitors:  make(map[string]*visitor),
		n:         n,
		window:    window,
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// Allow reports whether key may proceed.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastPrune) > k.window {
		k.prune(now)
	}
	v, ok := k.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(every(k.n, k.window), k.n)}
		k.visitors[key] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.visitors)
}

// prune drops keys idle for longer than the window. A limiter idle that long
// is full again, so dropping it changes nothing.
func (k *Keyed) prune(now time.Time) {
	for key, v := range k.visitors {
		if now.Sub(v.seen) > k.window {
			delete(k.visitors, key)
		}
	}
	k.lastPrune = now
}

// Middleware rejects requests over the limit with 429.
func (k *Keyed) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !k.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client IP from a request, respecting X-Forwarded-For
// for proxied deployments.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
