// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and turn errors.
//
// A Message is immutable once appended to a Conversation, with two
// exceptions: the most recent assistant message grows monotonically while a
// response streams in, and a failed turn has its content replaced and an
// ErrorInfo attached rather than being removed from history.
//
// Token estimation throughout the package is the character-count heuristic
// ceil(len/4). It is a budget proxy only and may diverge from a provider's
// real tokenizer.
package model
