package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	floodCleanupInterval = 5 * time.Minute
	floodStaleThreshold  = 10 * time.Minute
)

// floodGuard implements per-IP token bucket limiting using
// golang.org/x/time/rate. It sits in front of the per-identity quota
// limiter and absorbs raw request floods before any handler work runs.
// Cleanup of stale entries happens inline during allow() calls.
type floodGuard struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

// visitor holds a rate limiter and last-seen time for a single IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newFloodGuard creates a flood guard.
// r: tokens refilled per second. burst: maximum tokens (and initial allowance).
func newFloodGuard(r float64, burst int) *floodGuard {
	return &floodGuard{
		visitors:    make(map[string]*visitor),
		limit:       rate.Limit(r),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// allow checks if a request from the given IP is allowed.
// Returns false if the IP has exhausted its tokens.
func (fg *floodGuard) allow(ip string) bool {
	fg.mu.Lock()
	defer fg.mu.Unlock()

	now := time.Now()

	if now.Sub(fg.lastCleanup) > floodCleanupInterval {
		for k, v := range fg.visitors {
			if now.Sub(v.lastSeen) > floodStaleThreshold {
				delete(fg.visitors, k)
			}
		}
		fg.lastCleanup = now
	}

	v, exists := fg.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(fg.limit, fg.burst)
		fg.visitors[ip] = &visitor{
			limiter:  limiter,
			lastSeen: now,
		}
		limiter.Allow()
		return true
	}

	v.lastSeen = now
	return v.limiter.Allow()
}

// floodMiddleware returns middleware that limits raw requests per IP.
// Each IP gets burst initial tokens, refilling at the configured rate.
func floodMiddleware(fg *floodGuard, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !fg.allow(ip) {
				logger.Warn("flood guard triggered",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
