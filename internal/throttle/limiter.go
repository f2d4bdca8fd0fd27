// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package throttle

import (
	"sync"
	"time"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultMaxRequests is the per-identifier request cap used at the HTTP
	// boundary.
	DefaultMaxRequests = 10

	// DefaultWindow is the sliding window length used at the HTTP boundary.
	DefaultWindow = 60 * time.Second
)

// =============================================================================
// LIMITER
// =============================================================================

// Limiter implements a sliding-window rate limiter per client identifier.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter allowing limit requests per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// DefaultLimiter returns a limiter with the HTTP boundary defaults:
// 10 requests per 60 seconds.
func DefaultLimiter() *Limiter {
	return NewLimiter(DefaultMaxRequests, DefaultWindow)
}

// Allow reports whether a request from the given identifier may proceed.
// An accepted request is recorded; a rejected attempt is not.
func (l *Limiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := l.pruneLocked(id, now)

	if len(valid) >= l.limit {
		l.requests[id] = valid
		return false
	}

	l.requests[id] = append(valid, now)
	return true
}

// Remaining returns how many requests the identifier has left in the window.
func (l *Limiter) Remaining(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.pruneLocked(id, l.now())
	l.requests[id] = valid

	remaining := l.limit - len(valid)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ResetTime returns when the identifier's window frees a slot: the earliest
// surviving timestamp plus the window. The second return is false when the
// identifier has no recent requests.
func (l *Limiter) ResetTime(id string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.pruneLocked(id, l.now())
	l.requests[id] = valid

	if len(valid) == 0 {
		return time.Time{}, false
	}
	return valid[0].Add(l.window), true
}

// RetryAfterSeconds returns the whole seconds (rounded up) a rejected caller
// should wait before retrying. Zero when the identifier has no recent
// requests.
func (l *Limiter) RetryAfterSeconds(id string) int {
	reset, ok := l.ResetTime(id)
	if !ok {
		return 0
	}
	wait := reset.Sub(l.now())
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

// Clear removes request history for the identifier, or for all identifiers
// when id is empty.
func (l *Limiter) Clear(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id == "" {
		l.requests = make(map[string][]time.Time)
		return
	}
	delete(l.requests, id)
}

// Limit returns the per-window request cap.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// pruneLocked filters out timestamps outside the current window.
// Caller must hold l.mu.
func (l *Limiter) pruneLocked(id string, now time.Time) []time.Time {
	windowStart := now.Add(-l.window)

	timestamps := l.requests[id]
	valid := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	return valid
}
