// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{current: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(limit, window)
	l.now = clock.now
	return l, clock
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("client"), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("client"), "11th request should be rejected")
}

func TestLimiter_WindowExpiryReadmits(t *testing.T) {
	l, clock := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		l.Allow("client")
	}
	require.False(t, l.Allow("client"))

	clock.advance(61 * time.Second)

	assert.True(t, l.Allow("client"), "request after window should be allowed")
}

func TestLimiter_RejectionNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	require.True(t, l.Allow("client"))
	require.True(t, l.Allow("client"))

	// Hammering while rejected must not push the reset time out.
	reset1, ok := l.ResetTime("client")
	require.True(t, ok)

	clock.advance(10 * time.Second)
	require.False(t, l.Allow("client"))

	reset2, ok := l.ResetTime("client")
	require.True(t, ok)
	assert.Equal(t, reset1, reset2)
}

func TestLimiter_Remaining(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	assert.Equal(t, 3, l.Remaining("client"))
	l.Allow("client")
	assert.Equal(t, 2, l.Remaining("client"))
	l.Allow("client")
	l.Allow("client")
	assert.Equal(t, 0, l.Remaining("client"))
}

func TestLimiter_ResetTime(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	_, ok := l.ResetTime("client")
	assert.False(t, ok, "no requests yet, reset time should be absent")

	start := clock.current
	l.Allow("client")

	reset, ok := l.ResetTime("client")
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), reset)
}

func TestLimiter_RetryAfterSeconds(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	assert.Equal(t, 0, l.RetryAfterSeconds("client"), "no requests yet")

	l.Allow("client")
	assert.Equal(t, 60, l.RetryAfterSeconds("client"))

	clock.advance(10 * time.Second)
	assert.Equal(t, 50, l.RetryAfterSeconds("client"))

	clock.advance(500 * time.Millisecond)
	assert.Equal(t, 50, l.RetryAfterSeconds("client"), "partial seconds round up")

	clock.advance(50 * time.Second)
	assert.Equal(t, 0, l.RetryAfterSeconds("client"), "window elapsed")
}

func TestLimiter_IdentifiersIsolated(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	require.True(t, l.Allow("alice"))
	require.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"), "bob should not be affected by alice's limit")
}

func TestLimiter_Clear(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Allow("alice")
	l.Allow("bob")

	l.Clear("alice")
	assert.True(t, l.Allow("alice"), "cleared identifier should be readmitted")
	assert.False(t, l.Allow("bob"), "other identifiers unaffected by targeted clear")

	l.Clear("")
	assert.True(t, l.Allow("bob"), "clear-all should readmit everyone")
}
