// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream consumes an incremental chunked completion response and
// applies it to a visible assistant message.
//
// The consumer is an explicit state machine: Idle -> Streaming ->
// {Completed, Cancelled, Failed}. Chunks are decoded as text, buffered, and
// split into newline-delimited "data: ..." frames; a partial trailing line
// is retained for the next chunk, never discarded and never processed twice.
// Cancellation is cooperative, checked at chunk boundaries; content streamed
// before the abort is preserved.
package stream
