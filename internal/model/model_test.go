// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// =============================================================================
// TOKEN ESTIMATION TESTS
// =============================================================================

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "one char", text: "a", want: 1},
		{name: "four chars", text: "abcd", want: 1},
		{name: "five chars rounds up", text: "abcde", want: 2},
		{name: "eight chars", text: "abcdefgh", want: 2},
		{name: "hello world", text: "hello world", want: 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EstimateTokens(tc.text)
			if got != tc.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}

func TestMessage_EstimateTokens_UsesDisplayContent(t *testing.T) {
	msg := NewAssistantMessage()
	msg.AppendToken("hello world!")

	if got := msg.EstimateTokens(); got != 3 {
		t.Errorf("streaming EstimateTokens = %d, want 3", got)
	}
}

// =============================================================================
// STREAMING MESSAGE TESTS
// =============================================================================

func TestMessage_StreamingLifecycle(t *testing.T) {
	msg := NewAssistantMessage()

	if !msg.IsStreaming {
		t.Fatal("new assistant message should be streaming")
	}

	msg.AppendToken("Hel")
	msg.AppendToken("lo")

	if got := msg.GetDisplayContent(); got != "Hello" {
		t.Errorf("display content during streaming = %q, want %q", got, "Hello")
	}

	msg.FinalizeStream(2)

	if msg.IsStreaming {
		t.Error("message should no longer be streaming after finalize")
	}
	if msg.Content != "Hello" {
		t.Errorf("final content = %q, want %q", msg.Content, "Hello")
	}
	if msg.TokenCount != 2 {
		t.Errorf("token count = %d, want 2", msg.TokenCount)
	}
}

func TestMessage_AppendAfterFinalizeIgnored(t *testing.T) {
	msg := NewAssistantMessage()
	msg.AppendToken("done")
	msg.FinalizeStream(0)

	msg.AppendToken(" extra")

	if msg.GetDisplayContent() != "done" {
		t.Errorf("content changed after finalize: %q", msg.GetDisplayContent())
	}
}

// =============================================================================
// ERROR HANDLING TESTS
// =============================================================================

func TestMessage_Fail(t *testing.T) {
	msg := NewAssistantMessage()
	msg.AppendToken("partial")

	msg.Fail(NewErrorInfo(ErrKindServer, "upstream exploded"))

	if !msg.IsError() {
		t.Fatal("message should carry an error")
	}
	if msg.Content != "" {
		t.Errorf("failed message content = %q, want empty", msg.Content)
	}
	if msg.IsStreaming {
		t.Error("failed message should not remain streaming")
	}
	if !msg.Error.Retryable {
		t.Error("server errors should be retryable")
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindRateLimit, true},
		{ErrKindNetwork, true},
		{ErrKindServer, true},
		{ErrKindValidation, false},
		{ErrKindModeration, false},
		{ErrKindUnknown, true},
	}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			if got := tc.kind.Retryable(); got != tc.want {
				t.Errorf("%s.Retryable() = %v, want %v", tc.kind, got, tc.want)
			}
		})
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_AppendOrder(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewUserMessage("first"))
	conv.Append(NewMessage(RoleAssistant, "second"))
	conv.Append(NewUserMessage("third"))

	if conv.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", conv.Len())
	}
	if conv.Messages[0].Content != "first" || conv.Messages[2].Content != "third" {
		t.Error("messages out of insertion order")
	}
	if conv.Last().Content != "third" {
		t.Errorf("Last() = %q, want %q", conv.Last().Content, "third")
	}
	if conv.LastUserMessage().Content != "third" {
		t.Errorf("LastUserMessage() = %q, want %q", conv.LastUserMessage().Content, "third")
	}
}

func TestConversation_EstimateTokens(t *testing.T) {
	conv := NewConversation()
	conv.Append(NewUserMessage("abcd"))     // 1 token
	conv.Append(NewUserMessage("abcdefgh")) // 2 tokens

	if got := conv.EstimateTokens(); got != 3 {
		t.Errorf("EstimateTokens() = %d, want 3", got)
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage(strings.Repeat("x", 50))
	preview := msg.Preview(10)

	if len([]rune(preview)) != 10 {
		t.Errorf("preview length = %d, want 10", len([]rune(preview)))
	}
	if !strings.HasSuffix(preview, "...") {
		t.Errorf("preview %q should end in ellipsis", preview)
	}
}

func TestRole_Valid(t *testing.T) {
	if !RoleUser.Valid() || !RoleAssistant.Valid() || !RoleSystem.Valid() {
		t.Error("standard roles should be valid")
	}
	if Role("tool").Valid() {
		t.Error("unsupported role should be invalid")
	}
}
