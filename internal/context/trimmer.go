// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// TRIMMING
// =============================================================================

// Trim bounds messages to the options' token budget, preserving relative
// order. The budget is a soft target: system messages are returned even when
// they alone exceed it. Messages are never partially truncated; one that
// does not fit is excluded whole. Never fails, and is idempotent: trimming
// an already-trimmed sequence with the same options returns it unchanged.
//
// The summarize strategy needs an external call and lives on Summarizer;
// Trim treats it as last_n_tokens so a missing summarizer degrades safely.
func Trim(messages []*model.Message, opts TrimOptions) []*model.Message {
	opts = opts.normalized()

	switch opts.Strategy {
	case StrategyNone:
		return messages
	case StrategySmart:
		return trimSmart(messages, opts)
	default:
		return trimLastN(messages, opts)
	}
}

// trimLastN keeps system messages, then walks backward from the newest
// non-system message, including each one that fits the remaining budget.
// The walk stops at the first message that does not fit: everything older
// is dropped.
func trimLastN(messages []*model.Message, opts TrimOptions) []*model.Message {
	keep := make([]bool, len(messages))
	budget := keepSystemBlock(messages, opts, keep)

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleSystem {
			continue
		}
		cost := messages[i].EstimateTokens()
		if cost > budget {
			break
		}
		keep[i] = true
		budget -= cost
	}

	return collect(messages, keep)
}

// trimSmart keeps system messages, then up to KeepFirstMessages earliest
// non-system messages that fit, then applies the remaining budget to the
// most recent messages walking backward. The gap between the two blocks is
// simply omitted; summarizing it is the Summarizer's job.
func trimSmart(messages []*model.Message, opts TrimOptions) []*model.Message {
	keep := make([]bool, len(messages))
	budget := keepSystemBlock(messages, opts, keep)

	kept := 0
	for i := 0; i < len(messages) && kept < opts.KeepFirstMessages; i++ {
		if messages[i].Role == model.RoleSystem {
			continue
		}
		cost := messages[i].EstimateTokens()
		if cost > budget {
			break
		}
		keep[i] = true
		budget -= cost
		kept++
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if keep[i] || messages[i].Role == model.RoleSystem {
			continue
		}
		cost := messages[i].EstimateTokens()
		if cost > budget {
			break
		}
		keep[i] = true
		budget -= cost
	}

	return collect(messages, keep)
}

// keepSystemBlock marks system messages as kept when KeepSystemMessage is
// set and returns the budget left for everything else, floored at zero.
// When KeepSystemMessage is false, system messages are dropped entirely.
func keepSystemBlock(messages []*model.Message, opts TrimOptions, keep []bool) int {
	budget := opts.MaxTokens
	if !opts.KeepSystemMessage {
		return budget
	}
	for i, m := range messages {
		if m.Role == model.RoleSystem {
			keep[i] = true
			budget -= m.EstimateTokens()
		}
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

// collect returns the kept messages in original order.
func collect(messages []*model.Message, keep []bool) []*model.Message {
	out := make([]*model.Message, 0, len(messages))
	for i, m := range messages {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}
