// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// SUMMARIZER TYPES
// =============================================================================

// SummaryProvider is the external text-generation call used to compress a
// span of conversation. The cloud client satisfies this.
type SummaryProvider interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// Eligibility and sizing rules for the middle span.
const (
	// minMiddleMessages is the smallest middle span worth summarizing.
	minMiddleMessages = 5

	// maxRecentMessages caps the backward walk of the kept-recent block.
	// The smart strategy's walk is deliberately uncapped; the two code
	// paths diverge on purpose.
	maxRecentMessages = 25
)

// Summarizer implements the summarize trimming strategy.
type Summarizer struct {
	provider SummaryProvider
}

// NewSummarizer creates a summarizer backed by the given provider. A nil
// provider is allowed; every summarization then uses the count fallback.
func NewSummarizer(provider SummaryProvider) *Summarizer {
	return &Summarizer{provider: provider}
}

// =============================================================================
// SUMMARIZE AND TRIM
// =============================================================================

// SummarizeAndTrim bounds messages to the budget like Trim, but the dropped
// middle span may be replaced with a single synthetic system message
// carrying its summary. A summarization failure never aborts the request:
// the fallback text substitutes for the summary instead.
func (s *Summarizer) SummarizeAndTrim(ctx context.Context, messages []*model.Message, opts TrimOptions) []*model.Message {
	opts = opts.normalized()

	keep := make([]bool, len(messages))
	budget := keepSystemBlock(messages, opts, keep)

	// Kept-first block.
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

	// Kept-recent block: backward greedy, hard-capped message count.
	recent := 0
	firstRecentIdx := len(messages)
	for i := len(messages) - 1; i >= 0 && recent < maxRecentMessages; i-- {
		if keep[i] || messages[i].Role == model.RoleSystem {
			continue
		}
		cost := messages[i].EstimateTokens()
		if cost > budget {
			break
		}
		keep[i] = true
		budget -= cost
		recent++
		firstRecentIdx = i
	}

	// The middle span is everything dropped between the two blocks.
	var middle []*model.Message
	for i, m := range messages {
		if !keep[i] && i < firstRecentIdx && m.Role != model.RoleSystem {
			middle = append(middle, m)
		}
	}

	out := collect(messages, keep)
	if len(middle) == 0 {
		return out
	}

	synthetic := s.summarizeSpan(ctx, middle, opts)
	if synthetic == nil {
		return out
	}

	// Insert only if the result still fits the budget; otherwise the
	// summary is silently dropped.
	if model.EstimateMessagesTokens(out)+synthetic.EstimateTokens() > opts.MaxTokens {
		return out
	}

	return insertBefore(messages, keep, firstRecentIdx, synthetic)
}

// summarizeSpan produces the synthetic system message for the middle span,
// or nil when the span is not eligible for summarization.
func (s *Summarizer) summarizeSpan(ctx context.Context, middle []*model.Message, opts TrimOptions) *model.Message {
	if len(middle) < minMiddleMessages {
		return nil
	}
	if float64(model.EstimateMessagesTokens(middle)) <= opts.SummarizeThreshold*float64(opts.MaxTokens) {
		return nil
	}

	content := fmt.Sprintf("[Previous conversation: %d messages]", len(middle))

	if s.provider != nil {
		summary, err := s.provider.Summarize(ctx, spanText(middle), opts.MaxSummaryTokens)
		if err != nil {
			log.Printf("SUMMARIZE_FALLBACK | messages=%d err=%v", len(middle), err)
		} else {
			content = fmt.Sprintf("[Summary of previous conversation: %s]", summary)
		}
	}

	return model.NewSystemMessage(content)
}

// spanText flattens a message span into "Role: content" lines for the
// summarization prompt.
func spanText(messages []*model.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(roleLabel(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.GetDisplayContent())
		sb.WriteString("\n")
	}
	return sb.String()
}

// roleLabel returns the prompt-facing label for a role.
func roleLabel(r model.Role) string {
	switch r {
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return "Assistant"
	case model.RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// insertBefore rebuilds the kept sequence with synthetic inserted ahead of
// the message at idx (or appended when idx is past the end).
func insertBefore(messages []*model.Message, keep []bool, idx int, synthetic *model.Message) []*model.Message {
	out := make([]*model.Message, 0, len(messages)+1)
	inserted := false
	for i, m := range messages {
		if i == idx {
			out = append(out, synthetic)
			inserted = true
		}
		if keep[i] {
			out = append(out, m)
		}
	}
	if !inserted {
		out = append(out, synthetic)
	}
	return out
}
