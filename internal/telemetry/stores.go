// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// ENTRY TYPES
// =============================================================================

// MetricEntry records the outcome of one completion API call.
type MetricEntry struct {
	Timestamp   time.Time     `json:"timestamp"`
	Model       string        `json:"model"`
	Streamed    bool          `json:"streamed"`
	CacheHit    bool          `json:"cache_hit"`
	TotalTokens int           `json:"total_tokens"`
	Latency     time.Duration `json:"latency_ns"`
	Success     bool          `json:"success"`
}

// ErrorEntry records one failure.
type ErrorEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      model.ErrorKind `json:"kind"`
	Message   string          `json:"message"`
	Path      string          `json:"path,omitempty"`
}

// =============================================================================
// METRICS STORE
// =============================================================================

// DefaultCapacity is the ring size used when a store is created with a
// non-positive capacity.
const DefaultCapacity = 500

// MetricsStore is a bounded append-only ring buffer of MetricEntry values.
type MetricsStore struct {
	mu       sync.Mutex
	entries  []MetricEntry
	start    int
	count    int
	capacity int
}

// NewMetricsStore creates a metrics store holding at most capacity entries.
func NewMetricsStore(capacity int) *MetricsStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MetricsStore{
		entries:  make([]MetricEntry, capacity),
		capacity: capacity,
	}
}

// Record appends an entry, dropping the oldest when at capacity.
func (s *MetricsStore) Record(entry MetricEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count < s.capacity {
		s.entries[(s.start+s.count)%s.capacity] = entry
		s.count++
		return
	}

	// Full: overwrite the oldest slot and advance the ring start.
	s.entries[s.start] = entry
	s.start = (s.start + 1) % s.capacity
}

// Snapshot returns the recorded entries in insertion order, oldest first.
func (s *MetricsStore) Snapshot() []MetricEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MetricEntry, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.entries[(s.start+i)%s.capacity]
	}
	return out
}

// Len returns the number of stored entries.
func (s *MetricsStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// =============================================================================
// ERROR STORE
// =============================================================================

// ErrorStore is a bounded append-only ring buffer of ErrorEntry values.
type ErrorStore struct {
	mu       sync.Mutex
	entries  []ErrorEntry
	start    int
	count    int
	capacity int
}

// NewErrorStore creates an error store holding at most capacity entries.
func NewErrorStore(capacity int) *ErrorStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ErrorStore{
		entries:  make([]ErrorEntry, capacity),
		capacity: capacity,
	}
}

// Record appends an entry, dropping the oldest when at capacity.
func (s *ErrorStore) Record(entry ErrorEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count < s.capacity {
		s.entries[(s.start+s.count)%s.capacity] = entry
		s.count++
		return
	}

	s.entries[s.start] = entry
	s.start = (s.start + 1) % s.capacity
}

// Snapshot returns the recorded entries in insertion order, oldest first.
func (s *ErrorStore) Snapshot() []ErrorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ErrorEntry, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.entries[(s.start+i)%s.capacity]
	}
	return out
}

// Len returns the number of stored entries.
func (s *ErrorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
