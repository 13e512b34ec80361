// Package ratelimit implements a per-identity quota limiter with two sliding
// windows: a short window that absorbs bursts and a long window that bounds
// sustained usage.
//
// The limiter keeps an in-memory timestamp log per identity. Every decision
// prunes entries older than the long window, checks the minute window, then
// the hour window, and records the request only when both admit it. Denied
// requests never consume quota. State is process-local; deployments with
// several replicas need an external store for global quotas.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Window lengths for the two sliding windows.
const (
	minuteWindow = 60 * time.Second
	hourWindow   = 3600 * time.Second
)

// Denial reasons returned by Allow. They are stable strings suitable for API
// responses and logs.
const (
	ReasonMinuteExceeded = "per-minute limit exceeded"
	ReasonHourExceeded   = "per-hour limit exceeded"
)

// Usage reports current consumption for one identity.
type Usage struct {
	LastMinute      int `json:"last_minute"`      // requests admitted in the past 60s
	LastHour        int `json:"last_hour"`        // requests admitted in the past 3600s
	PerMinute       int `json:"per_minute"`       // configured minute cap
	PerHour         int `json:"per_hour"`         // configured hour cap
	MinuteRemaining int `json:"minute_remaining"` // requests left in the minute window
	HourRemaining   int `json:"hour_remaining"`   // requests left in the hour window
}

// Limiter is a dual-window sliding limiter. The zero value is not usable;
// construct with New.
//
// Limiter is safe for concurrent use. A single mutex serializes the
// check-and-record sequence, so under concurrency exactly the configured
// number of requests is admitted per window.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	requests  map[string][]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Limiter admitting at most perMinute requests per sliding
// minute and perHour requests per sliding hour, per identity. Caps below 1
// are raised to 1.
func New(perMinute, perHour int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	if perHour < 1 {
		perHour = 1
	}
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		requests:  map[string][]time.Time{},
		now:       time.Now,
	}
}

// Allow decides whether the identity may make a request now. On admission the
// request is recorded and (true, "") is returned. On denial nothing is
// recorded and the reason names the violated window; the minute window is
// checked first.
func (l *Limiter) Allow(identity string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	log := l.pruneLocked(identity, now)

	minuteCutoff := now.Add(-minuteWindow)
	inMinute := 0
	for _, ts := range log {
		if ts.After(minuteCutoff) {
			inMinute++
		}
	}

	if inMinute >= l.perMinute {
		return false, ReasonMinuteExceeded
	}
	if len(log) >= l.perHour {
		return false, ReasonHourExceeded
	}

	l.requests[identity] = append(log, now)
	return true, ""
}

// Usage reports current consumption for the identity without recording a
// request. Pruning still runs so stale entries never inflate the counts.
func (l *Limiter) Usage(identity string) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	log := l.pruneLocked(identity, now)

	minuteCutoff := now.Add(-minuteWindow)
	inMinute := 0
	for _, ts := range log {
		if ts.After(minuteCutoff) {
			inMinute++
		}
	}

	return Usage{
		LastMinute:      inMinute,
		LastHour:        len(log),
		PerMinute:       l.perMinute,
		PerHour:         l.perHour,
		MinuteRemaining: remaining(l.perMinute, inMinute),
		HourRemaining:   remaining(l.perHour, len(log)),
	}
}

// remaining clamps at zero so a window at its cap never reports negative
// quota.
func remaining(cap, used int) int {
	if used >= cap {
		return 0
	}
	return cap - used
}

// RetryAfter returns a conservative hint for the Retry-After response header
// given a denial reason.
func RetryAfter(reason string) time.Duration {
	if reason == ReasonHourExceeded {
		return hourWindow
	}
	return minuteWindow
}

// pruneLocked drops entries older than the hour window and returns the
// remaining log. Identities whose log empties are removed from the map so
// one-off callers do not accumulate. Callers must hold l.mu.
func (l *Limiter) pruneLocked(identity string, now time.Time) []time.Time {
	log := l.requests[identity]
	if len(log) == 0 {
		return nil
	}

	cutoff := now.Add(-hourWindow)
	keep := 0
	for keep < len(log) && !log[keep].After(cutoff) {
		keep++
	}
	log = log[keep:]

	if len(log) == 0 {
		delete(l.requests, identity)
		return nil
	}
	l.requests[identity] = log
	return log
}

// String describes the configured caps, for startup logs.
func (l *Limiter) String() string {
	return fmt.Sprintf("ratelimit.Limiter(per_minute=%d, per_hour=%d)", l.perMinute, l.perHour)
}
