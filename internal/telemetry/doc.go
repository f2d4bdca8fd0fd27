// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides in-memory outcome recording for API calls.
//
// MetricsStore and ErrorStore are bounded append-only ring buffers: entries
// are never mutated after creation, and the oldest entry is dropped when a
// store is at capacity. Both are process-wide shared state constructed once
// at startup and passed to handlers; nothing survives a restart.
package telemetry
