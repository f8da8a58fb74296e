package admin

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// ipWindow tracks request counts for a single admin caller.
type ipWindow struct {
	count   int
	resetAt time.Time
}

// ipRateLimiter provides per-IP rate limiting for the admin API, separate
// from the quota store: admin endpoints must stay usable while the store is
// being debugged, so their limiter is purely in-process.
type ipRateLimiter struct {
	mu          sync.Mutex
	windows     map[string]*ipWindow
	maxRequests int
	window      time.Duration
}

func newIPRateLimiter(maxRequests int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		windows:     make(map[string]*ipWindow),
		maxRequests: maxRequests,
		window:      window,
	}
}

// allow checks if the given IP may make another request.
// Returns (allowed, secondsUntilReset).
func (rl *ipRateLimiter) allow(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Lazy cleanup: drop expired windows.
	for k, e := range rl.windows {
		if now.After(e.resetAt) {
			delete(rl.windows, k)
		}
	}

	e, ok := rl.windows[ip]
	if !ok || now.After(e.resetAt) {
		rl.windows[ip] = &ipWindow{count: 1, resetAt: now.Add(rl.window)}
		return true, 0
	}

	if e.count >= rl.maxRequests {
		retryAfter := int(e.resetAt.Sub(now).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}

	e.count++
	return true, 0
}

// rateLimitMiddleware wraps the admin API with per-IP rate limiting.
// Localhost callers are exempt, consistent with the auth bypass. When the
// limit is exceeded, responds 429 with a Retry-After header.
func rateLimitMiddleware(maxRequests int, window time.Duration, next http.Handler) http.Handler {
	limiter := newIPRateLimiter(maxRequests, window)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}

		clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			clientIP = r.RemoteAddr
		}

		allowed, retryAfter := limiter.allow(clientIP)
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			writeError(w, http.StatusTooManyRequests, "admin rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
