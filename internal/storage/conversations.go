// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// STORED TYPES
// =============================================================================

// Key namespaces within the kv table.
const (
	conversationPrefix = "conversation:"
	preferencesPrefix  = "preferences:"
)

// StoredConversation is the persisted snapshot of one conversation.
type StoredConversation struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []StoredMessage `json:"messages"`
}

// StoredMessage is the persisted form of one message. Failed turns keep
// their error so the transcript renders the same after a reload.
type StoredMessage struct {
	ID         string           `json:"id"`
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Timestamp  time.Time        `json:"timestamp"`
	TokenCount int              `json:"token_count,omitempty"`
	Error      *model.ErrorInfo `json:"error,omitempty"`
}

// Preferences are the per-client settings the browser persists.
type Preferences struct {
	UserName       string `json:"user_name"`
	ResponseMode   string `json:"response_mode"`
	ChainOfThought string `json:"chain_of_thought"`
	UseRAG         bool   `json:"use_rag"`
	Language       string `json:"language"`
}

// DefaultPreferences returns the preferences used before a client saves any.
func DefaultPreferences() Preferences {
	return Preferences{
		ResponseMode:   "detailed",
		ChainOfThought: "none",
		UseRAG:         false,
	}
}

// =============================================================================
// CONVERSION
// =============================================================================

// SnapshotConversation converts a live conversation into its stored form.
// A message still streaming snapshots its current visible content.
func SnapshotConversation(conv *model.Conversation) *StoredConversation {
	sc := &StoredConversation{
		ID:        conv.ID,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]StoredMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		sc.Messages = append(sc.Messages, StoredMessage{
			ID:         m.ID,
			Role:       m.Role.String(),
			Content:    m.GetDisplayContent(),
			Timestamp:  m.Timestamp,
			TokenCount: m.TokenCount,
			Error:      m.Error,
		})
	}
	return sc
}

// Restore converts a stored snapshot back into a live conversation.
// Messages with an unknown role are skipped rather than failing the load.
func (sc *StoredConversation) Restore() *model.Conversation {
	conv := &model.Conversation{
		ID:        sc.ID,
		CreatedAt: sc.CreatedAt,
		UpdatedAt: sc.UpdatedAt,
	}
	for _, sm := range sc.Messages {
		role := model.Role(sm.Role)
		if !role.Valid() {
			continue
		}
		msg := &model.Message{
			ID:         sm.ID,
			Role:       role,
			Content:    sm.Content,
			Timestamp:  sm.Timestamp,
			TokenCount: sm.TokenCount,
			Error:      sm.Error,
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv
}

// =============================================================================
// CONVERSATION OPERATIONS
// =============================================================================

// SaveConversation upserts a conversation snapshot.
func (s *Store) SaveConversation(ctx context.Context, sc *StoredConversation) error {
	return s.PutJSON(ctx, conversationPrefix+sc.ID, sc)
}

// LoadConversation reads a conversation snapshot. The second return is
// false when the snapshot is absent or unparseable.
func (s *Store) LoadConversation(ctx context.Context, id string) (*StoredConversation, bool, error) {
	var sc StoredConversation
	ok, err := s.GetJSON(ctx, conversationPrefix+id, &sc)
	if err != nil || !ok {
		return nil, false, err
	}
	return &sc, true, nil
}

// DeleteConversation removes a conversation snapshot.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.Delete(ctx, conversationPrefix+id)
}

// ListConversationIDs returns stored conversation ids, most recent first.
func (s *Store) ListConversationIDs(ctx context.Context) ([]string, error) {
	keys, err := s.Keys(ctx, conversationPrefix)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(conversationPrefix):])
	}
	return ids, nil
}

// =============================================================================
// PREFERENCE OPERATIONS
// =============================================================================

// SavePreferences upserts a client's preferences.
func (s *Store) SavePreferences(ctx context.Context, clientID string, prefs Preferences) error {
	return s.PutJSON(ctx, preferencesPrefix+clientID, prefs)
}

// LoadPreferences reads a client's preferences, falling back to defaults
// when absent or unparseable.
func (s *Store) LoadPreferences(ctx context.Context, clientID string) (Preferences, error) {
	var prefs Preferences
	ok, err := s.GetJSON(ctx, preferencesPrefix+clientID, &prefs)
	if err != nil || !ok {
		return DefaultPreferences(), err
	}
	return prefs, nil
}
