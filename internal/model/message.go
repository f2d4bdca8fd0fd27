// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether the role is one of the accepted values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// ERROR KIND TYPE
// =============================================================================

// ErrorKind classifies a failed turn.
type ErrorKind string

const (
	ErrKindRateLimit  ErrorKind = "rate_limit"
	ErrKindNetwork    ErrorKind = "network"
	ErrKindServer     ErrorKind = "server"
	ErrKindValidation ErrorKind = "validation"
	ErrKindModeration ErrorKind = "moderation"
	ErrKindUnknown    ErrorKind = "unknown"
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	return string(k)
}

// Retryable reports whether a turn failed with this kind may be retried
// automatically. Validation and moderation failures never are; unknown is
// treated as retryable as a conservative default.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindValidation, ErrKindModeration:
		return false
	}
	return true
}

// =============================================================================
// ERROR INFO TYPE
// =============================================================================

// ErrorInfo describes a failed turn. It is attached to the turn's assistant
// message so the failure stays visible in the transcript instead of being
// removed from history.
type ErrorInfo struct {
	Message           string    `json:"message"`
	Kind              ErrorKind `json:"kind"`
	Retryable         bool      `json:"retryable"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	Details           []string  `json:"details,omitempty"`
}

// NewErrorInfo creates an ErrorInfo with the retryable flag derived from the kind.
func NewErrorInfo(kind ErrorKind, message string) *ErrorInfo {
	return &ErrorInfo{
		Message:   message,
		Kind:      kind,
		Retryable: kind.Retryable(),
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Error state for a failed turn. Nil for successful messages.
	Error *ErrorInfo `json:"error,omitempty"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`

	// Token statistics
	TokenCount int `json:"token_count,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// NewAssistantMessage creates a new assistant message in streaming state.
// Content accumulates via AppendToken until FinalizeStream is called.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          generateID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendToken appends a token to a streaming message. Appends are strictly
// ordered by arrival; content only ever grows.
func (m *Message) AppendToken(token string) {
	if m.IsStreaming {
		m.streamContent.WriteString(token)
	}
}

// FinalizeStream completes streaming and records the token count.
func (m *Message) FinalizeStream(tokenCount int) {
	if !m.IsStreaming {
		return
	}

	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false

	if tokenCount > 0 {
		m.TokenCount = tokenCount
	}
}

// Fail replaces the message content with empty (or a placeholder when nothing
// streamed) and attaches the error. The message stays in history as an error
// bubble rather than being discarded.
func (m *Message) Fail(info *ErrorInfo) {
	if m.IsStreaming {
		m.streamContent.Reset()
		m.IsStreaming = false
	}
	m.Content = ""
	m.Error = info
}

// GetDisplayContent returns the content to display (streaming or final).
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// IsError reports whether this message represents a failed turn.
func (m *Message) IsError() bool {
	return m.Error != nil
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := m.GetDisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// EstimateTokens gives a rough estimate of the message's token count.
func (m *Message) EstimateTokens() int {
	return EstimateTokens(m.GetDisplayContent())
}

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// EstimateTokens approximates the token count of a text span as
// ceil(len(text)/4). Deterministic and pure; used only as a budget proxy,
// not an exact tokenizer.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
