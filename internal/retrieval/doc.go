// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrieval provides lexical search over a small fixed in-memory
// document set, used to build retrieval-augmented context blocks.
//
// The scorer is intentionally a toy: lowercase word overlap with per-field
// weights. No embeddings or vector search are involved anywhere.
package retrieval
