// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package context is the conversation-context pipeline: it turns unbounded
// chat history plus runtime options into a bounded, ordered message sequence
// ready to submit to the completion provider.
//
// Three stages compose the pipeline:
//
//   - Trim bounds history to a token budget with the none, last_n_tokens,
//     and smart strategies. Pure, never fails, idempotent.
//   - Summarizer implements the summarize strategy: the middle span of a
//     long conversation is replaced by a single synthetic system message
//     produced by an external text-generation call, with a count-based
//     fallback when that call fails.
//   - Assembler builds the system instruction (persona, response mode,
//     chain-of-thought directive, retrieved knowledge, personalization),
//     prepends it to history, and delegates to the strategy above.
//
// Token budgets are estimates, not exact provider tokenization; see the
// model package's EstimateTokens.
package context
