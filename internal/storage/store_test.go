// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "rigchat.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetJSON_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if err := s.PutJSON(ctx, "test:payload", payload{Name: "alpha", Count: 3}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	var got payload
	ok, err := s.GetJSON(ctx, "test:payload", &got)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !ok {
		t.Fatal("expected key to be present")
	}
	if got.Name != "alpha" || got.Count != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestGetJSON_AbsentKeyLeavesDefaults(t *testing.T) {
	s := testStore(t)

	got := struct{ Name string }{Name: "default"}
	ok, err := s.GetJSON(context.Background(), "test:missing", &got)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if ok {
		t.Error("expected absent key to report false")
	}
	if got.Name != "default" {
		t.Errorf("defaults were clobbered: %+v", got)
	}
}

func TestGetJSON_UnparseableValueReportsAbsent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// A string stored under the key cannot unmarshal into a struct.
	if err := s.PutJSON(ctx, "test:bad", "not-an-object"); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	var got struct{ Name string }
	ok, err := s.GetJSON(ctx, "test:bad", &got)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if ok {
		t.Error("expected unparseable value to report false")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.PutJSON(ctx, "test:gone", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	if err := s.Delete(ctx, "test:gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "test:gone"); err != nil {
		t.Errorf("deleting an absent key should not error: %v", err)
	}

	var got map[string]string
	ok, err := s.GetJSON(ctx, "test:gone", &got)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if ok {
		t.Error("deleted key should be absent")
	}
}

func TestKeys_PrefixFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, k := range []string{"conversation:a", "conversation:b", "preferences:a"} {
		if err := s.PutJSON(ctx, k, map[string]string{}); err != nil {
			t.Fatalf("PutJSON %s: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "conversation:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 conversation keys, got %d: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != "conversation:a" && k != "conversation:b" {
			t.Errorf("unexpected key %q", k)
		}
	}
}

func TestConversation_SnapshotRestoreRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := model.NewConversation()
	conv.Append(model.NewMessage(model.RoleUser, "hello"))
	failed := model.NewAssistantMessage()
	failed.Fail(&model.ErrorInfo{
		Kind:    model.ErrKindRateLimit,
		Message: "slow down",
	})
	conv.Append(failed)

	if err := s.SaveConversation(ctx, SnapshotConversation(conv)); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	sc, ok, err := s.LoadConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("LoadConversation: %v", err)
	}
	if !ok {
		t.Fatal("expected conversation to be present")
	}

	restored := sc.Restore()
	if restored.ID != conv.ID {
		t.Errorf("id mismatch: %s != %s", restored.ID, conv.ID)
	}
	if len(restored.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(restored.Messages))
	}
	if restored.Messages[0].Content != "hello" {
		t.Errorf("user message content lost: %q", restored.Messages[0].Content)
	}
	got := restored.Messages[1]
	if got.Error == nil {
		t.Fatal("failed turn should keep its error after reload")
	}
	if got.Error.Kind != model.ErrKindRateLimit {
		t.Errorf("error kind mismatch: %s", got.Error.Kind)
	}
}

func TestRestore_SkipsUnknownRoles(t *testing.T) {
	sc := &StoredConversation{
		ID:        "conv-1",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages: []StoredMessage{
			{ID: "m1", Role: "user", Content: "hi"},
			{ID: "m2", Role: "narrator", Content: "bogus"},
			{ID: "m3", Role: "assistant", Content: "hello"},
		},
	}

	conv := sc.Restore()
	if len(conv.Messages) != 2 {
		t.Fatalf("expected unknown role to be skipped, got %d messages", len(conv.Messages))
	}
	if conv.Messages[1].Role != model.RoleAssistant {
		t.Errorf("wrong surviving roles: %v", conv.Messages)
	}
}

func TestListConversationIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"one", "two"} {
		sc := &StoredConversation{ID: id, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := s.SaveConversation(ctx, sc); err != nil {
			t.Fatalf("SaveConversation: %v", err)
		}
	}

	ids, err := s.ListConversationIDs(ctx)
	if err != nil {
		t.Fatalf("ListConversationIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	for _, id := range ids {
		if id != "one" && id != "two" {
			t.Errorf("unexpected id %q", id)
		}
	}
}

func TestPreferences_DefaultsWhenAbsent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	prefs, err := s.LoadPreferences(ctx, "client-1")
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if prefs.ResponseMode != "detailed" || prefs.ChainOfThought != "none" || prefs.UseRAG {
		t.Errorf("expected defaults, got %+v", prefs)
	}
}

func TestPreferences_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := Preferences{
		UserName:       "Dana",
		ResponseMode:   "short",
		ChainOfThought: "detailed",
		UseRAG:         true,
		Language:       "de",
	}
	if err := s.SavePreferences(ctx, "client-1", want); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	got, err := s.LoadPreferences(ctx, "client-1")
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if got != want {
		t.Errorf("preferences round trip mismatch: %+v != %+v", got, want)
	}
}
