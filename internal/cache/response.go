// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// FINGERPRINT
// =============================================================================

// FingerprintInputs is the canonicalized subset of request inputs a cached
// response is addressed by.
type FingerprintInputs struct {
	LastUserMessage string `json:"last_user_message"`
	UserName        string `json:"user_name"`
	ResponseMode    string `json:"response_mode"`
	ChainOfThought  string `json:"chain_of_thought"`
}

// Fingerprint derives the deterministic cache key: canonical JSON of the
// inputs with the last user message lowercased and trimmed.
func Fingerprint(in FingerprintInputs) string {
	in.LastUserMessage = strings.ToLower(strings.TrimSpace(in.LastUserMessage))
	data, _ := json.Marshal(in)
	return string(data)
}

// =============================================================================
// RESPONSE CACHE
// =============================================================================

const (
	// DefaultTTL is how long an entry lives unless overridden per Set call.
	DefaultTTL = time.Hour

	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Entry is one cached response.
type Entry struct {
	Key       string
	Response  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Stats holds cache statistics.
type Stats struct {
	Hits    int `json:"hits"`
	Misses  int `json:"misses"`
	Entries int `json:"entries"`
}

// ResponseCache is a TTL cache for completed responses. Safe for concurrent
// use; constructed once at startup and shared by reference.
type ResponseCache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	defaultTTL time.Duration

	hits   int
	misses int

	stopSweep chan struct{}
	sweepOnce sync.Once

	// now is swappable for tests.
	now func() time.Time
}

// NewResponseCache creates a cache with the given default TTL.
// A non-positive ttl falls back to DefaultTTL.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResponseCache{
		entries:    make(map[string]*Entry),
		defaultTTL: ttl,
		stopSweep:  make(chan struct{}),
		now:        time.Now,
	}
}

// =============================================================================
// CACHE OPERATIONS
// =============================================================================

// Get returns the cached response for the inputs, or ok=false when absent.
// An expired entry is treated as absent and evicted on access.
func (c *ResponseCache) Get(in FingerprintInputs) (string, bool) {
	key := Fingerprint(in)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	if !c.now().Before(entry.ExpiresAt) {
		// Lazy expiry. Delete is idempotent with the background sweep.
		delete(c.entries, key)
		c.misses++
		return "", false
	}

	c.hits++
	return entry.Response, true
}

// Set stores a response under the inputs' fingerprint. A non-positive ttl
// uses the cache default.
func (c *ResponseCache) Set(in FingerprintInputs, response string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := Fingerprint(in)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry{
		Key:       key,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Clear removes all entries.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Cleanup sweeps all expired entries. Called by the background sweep and
// exposed for explicit use.
func (c *ResponseCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of stored entries, expired or not.
func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters and the current entry count.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// =============================================================================
// BACKGROUND SWEEP
// =============================================================================

// StartSweep launches the periodic expiry sweep. A non-positive interval
// falls back to DefaultSweepInterval. Stop the sweep with StopSweep.
func (c *ResponseCache) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-c.stopSweep:
				return
			}
		}
	}()
}

// StopSweep halts the background sweep. Safe to call more than once.
func (c *ResponseCache) StopSweep() {
	c.sweepOnce.Do(func() {
		close(c.stopSweep)
	})
}
