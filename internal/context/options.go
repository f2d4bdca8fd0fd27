// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

// =============================================================================
// TRIMMING STRATEGY
// =============================================================================

// Strategy selects how history is bounded to the token budget.
type Strategy string

const (
	// StrategyNone passes history through unchanged.
	StrategyNone Strategy = "none"

	// StrategyLastNTokens keeps the most recent messages that fit.
	StrategyLastNTokens Strategy = "last_n_tokens"

	// StrategySmart keeps an early block plus the most recent messages.
	StrategySmart Strategy = "smart"

	// StrategySummarize replaces the dropped middle span with a summary.
	StrategySummarize Strategy = "summarize"
)

// Valid reports whether the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyNone, StrategyLastNTokens, StrategySmart, StrategySummarize:
		return true
	}
	return false
}

// =============================================================================
// TRIM OPTIONS
// =============================================================================

// Default values applied by normalized.
const (
	DefaultMaxTokens          = 4000
	DefaultKeepFirstMessages  = 2
	DefaultSummarizeThreshold = 0.5
	DefaultMaxSummaryTokens   = 150
)

// TrimOptions control one trimming invocation. Immutable per call; zero
// fields are filled with defaults at use time.
type TrimOptions struct {
	// Strategy selects the trimming algorithm.
	Strategy Strategy

	// MaxTokens is the soft token budget for the result.
	MaxTokens int

	// KeepSystemMessage keeps system messages even when over budget.
	KeepSystemMessage bool

	// KeepFirstMessages is the count of earliest non-system messages the
	// smart and summarize strategies try to preserve.
	KeepFirstMessages int

	// SummarizeThreshold is the fraction of MaxTokens the middle span must
	// exceed before a summarization call is made.
	SummarizeThreshold float64

	// MaxSummaryTokens bounds the requested summary length.
	MaxSummaryTokens int
}

// DefaultTrimOptions returns the options used when the caller supplies none.
func DefaultTrimOptions() TrimOptions {
	return TrimOptions{
		Strategy:           StrategySummarize,
		MaxTokens:          DefaultMaxTokens,
		KeepSystemMessage:  true,
		KeepFirstMessages:  DefaultKeepFirstMessages,
		SummarizeThreshold: DefaultSummarizeThreshold,
		MaxSummaryTokens:   DefaultMaxSummaryTokens,
	}
}

// normalized fills zero values with defaults.
func (o TrimOptions) normalized() TrimOptions {
	if !o.Strategy.Valid() {
		o.Strategy = StrategySummarize
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.KeepFirstMessages < 0 {
		o.KeepFirstMessages = 0
	}
	if o.SummarizeThreshold <= 0 || o.SummarizeThreshold > 1 {
		o.SummarizeThreshold = DefaultSummarizeThreshold
	}
	if o.MaxSummaryTokens <= 0 {
		o.MaxSummaryTokens = DefaultMaxSummaryTokens
	}
	return o
}
