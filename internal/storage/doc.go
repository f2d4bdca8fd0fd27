// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversation snapshots and user preferences as
// JSON-serialized key/value entries in a local SQLite database.
//
// Reads are tolerant: a missing key or an unparseable value leaves the
// caller's defaults in place instead of failing the request. Writes are
// upserts keyed by a namespaced string key.
package storage
