// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides a content-addressed TTL cache for completed,
// non-streamed completion responses.
//
// Keys are fingerprints over a canonicalized subset of request inputs: the
// normalized last user message, the user name, the response mode, and the
// chain-of-thought mode. Conversation history is deliberately not part of
// the fingerprint; two conversations sharing those four inputs collide and
// return the same cached answer. That is specified behavior, kept as a
// known staleness caveat.
//
// Expired entries are evicted both lazily on read and by a periodic sweep;
// removal is idempotent so the two mechanisms coexist safely.
package cache
