// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/rigchat/internal/model"
)

// fakeProvider records summarization calls and returns a canned result.
type fakeProvider struct {
	calls    int
	lastText string
	lastMax  int
	summary  string
	err      error
}

func (f *fakeProvider) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	f.calls++
	f.lastText = text
	f.lastMax = maxTokens
	return f.summary, f.err
}

// summarizeFixture builds a history with a middle span the backward walk
// cannot afford: middle messages of 101 tokens each, then three recent
// messages of 300 tokens each against a 1000-token budget.
func summarizeFixture(middleCount int) []*model.Message {
	var messages []*model.Message
	for i := 0; i < middleCount; i++ {
		messages = append(messages, msgOfTokens(model.RoleUser, 101))
	}
	for i := 0; i < 3; i++ {
		messages = append(messages, msgOfTokens(model.RoleAssistant, 300))
	}
	return messages
}

func summarizeOpts() TrimOptions {
	return TrimOptions{
		Strategy:           StrategySummarize,
		MaxTokens:          1000,
		SummarizeThreshold: 0.5,
		MaxSummaryTokens:   150,
	}
}

func TestSummarizeAndTrim_EligibleSpanTriggersCall(t *testing.T) {
	provider := &fakeProvider{summary: "They argued about tabs and spaces."}
	s := NewSummarizer(provider)

	out := s.SummarizeAndTrim(context.Background(), summarizeFixture(6), summarizeOpts())

	if provider.calls != 1 {
		t.Fatalf("summarization calls = %d, want 1", provider.calls)
	}
	if provider.lastMax != 150 {
		t.Errorf("requested summary cap = %d, want 150", provider.lastMax)
	}
	if !strings.Contains(provider.lastText, "User: ") {
		t.Error("span text should carry Role: content lines")
	}

	if len(out) != 4 {
		t.Fatalf("result length = %d, want 4 (summary + 3 recent)", len(out))
	}
	if out[0].Role != model.RoleSystem {
		t.Errorf("summary message role = %s, want system", out[0].Role)
	}
	want := "[Summary of previous conversation: They argued about tabs and spaces.]"
	if out[0].Content != want {
		t.Errorf("summary content = %q, want %q", out[0].Content, want)
	}
}

func TestSummarizeAndTrim_SmallSpanBelowMessageFloor(t *testing.T) {
	provider := &fakeProvider{summary: "unused"}
	s := NewSummarizer(provider)

	out := s.SummarizeAndTrim(context.Background(), summarizeFixture(3), summarizeOpts())

	if provider.calls != 0 {
		t.Errorf("summarization calls = %d, want 0 for a 3-message span", provider.calls)
	}
	if len(out) != 3 {
		t.Errorf("result length = %d, want 3 recent messages only", len(out))
	}
}

func TestSummarizeAndTrim_FailureUsesCountFallback(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider down")}
	s := NewSummarizer(provider)

	out := s.SummarizeAndTrim(context.Background(), summarizeFixture(6), summarizeOpts())

	if len(out) != 4 {
		t.Fatalf("result length = %d, want 4", len(out))
	}
	if out[0].Content != "[Previous conversation: 6 messages]" {
		t.Errorf("fallback content = %q", out[0].Content)
	}
}

func TestSummarizeAndTrim_NilProviderUsesCountFallback(t *testing.T) {
	s := NewSummarizer(nil)

	out := s.SummarizeAndTrim(context.Background(), summarizeFixture(6), summarizeOpts())

	if len(out) != 4 {
		t.Fatalf("result length = %d, want 4", len(out))
	}
	if out[0].Content != "[Previous conversation: 6 messages]" {
		t.Errorf("fallback content = %q", out[0].Content)
	}
}

func TestSummarizeAndTrim_OverlongSummarySilentlyDropped(t *testing.T) {
	provider := &fakeProvider{summary: strings.Repeat("s", 500)}
	s := NewSummarizer(provider)

	out := s.SummarizeAndTrim(context.Background(), summarizeFixture(6), summarizeOpts())

	if provider.calls != 1 {
		t.Fatalf("summarization calls = %d, want 1", provider.calls)
	}
	if len(out) != 3 {
		t.Fatalf("result length = %d, want 3 (summary dropped, recent kept)", len(out))
	}
	for _, m := range out {
		if m.Role == model.RoleSystem {
			t.Error("dropped summary must not appear in the result")
		}
	}
}

func TestSummarizeAndTrim_BelowSizeThresholdNoCall(t *testing.T) {
	// 5 middle messages but tiny: count floor passes, size threshold fails.
	var messages []*model.Message
	for i := 0; i < 5; i++ {
		messages = append(messages, msgOfTokens(model.RoleUser, 2))
	}
	for i := 0; i < 25; i++ {
		messages = append(messages, msgOfTokens(model.RoleAssistant, 2))
	}

	provider := &fakeProvider{summary: "unused"}
	s := NewSummarizer(provider)

	out := s.SummarizeAndTrim(context.Background(), messages, summarizeOpts())

	if provider.calls != 0 {
		t.Errorf("summarization calls = %d, want 0 below the size threshold", provider.calls)
	}
	// The backward walk is capped at 25 recent messages, leaving the 5
	// middle ones out even though they would fit the budget.
	if len(out) != 25 {
		t.Errorf("result length = %d, want 25 (hard recent cap)", len(out))
	}
}

func TestSummarizeAndTrim_RecentCapAt25(t *testing.T) {
	var messages []*model.Message
	for i := 0; i < 40; i++ {
		messages = append(messages, msgOfTokens(model.RoleUser, 2))
	}

	s := NewSummarizer(&fakeProvider{summary: "short summary"})
	out := s.SummarizeAndTrim(context.Background(), messages, summarizeOpts())

	recent := 0
	for _, m := range out {
		if m.Role != model.RoleSystem {
			recent++
		}
	}
	if recent != 25 {
		t.Errorf("recent messages kept = %d, want 25", recent)
	}
}
