// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// testClock lets tests advance time without sleeping.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(store *storage.Store) (*Manager, *testClock) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(store, Config{
		IdleTimeout:  30 * time.Minute,
		ReapInterval: time.Minute,
		AutoPersist:  true,
	})
	m.now = clock.now
	return m, clock
}

func TestGetOrCreate_GeneratesAndReusesID(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	id, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated session id")
	}

	again, err := m.GetOrCreate(ctx, id)
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if again != id {
		t.Errorf("expected same session, got %s != %s", again, id)
	}
	if stats := m.GetStats(); stats.Active != 1 || stats.TotalCreated != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSubmissionGuard_RejectsSecondInFlight(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	id, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if err := m.BeginSubmission(id); err != nil {
		t.Fatalf("first BeginSubmission: %v", err)
	}
	if err := m.BeginSubmission(id); !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight, got %v", err)
	}

	m.EndSubmission(id)
	if err := m.BeginSubmission(id); err != nil {
		t.Errorf("BeginSubmission after end: %v", err)
	}
}

func TestSubmissionGuard_UnknownSession(t *testing.T) {
	m, _ := newTestManager(nil)
	if err := m.BeginSubmission("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAppendMessage_OrderPreserved(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	id, _ := m.GetOrCreate(ctx, "")
	for _, content := range []string{"one", "two", "three"} {
		if err := m.AppendMessage(id, model.NewMessage(model.RoleUser, content)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := m.History(id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i, want := range []string{"one", "two", "three"} {
		if history[i].Content != want {
			t.Errorf("message %d: got %q, want %q", i, history[i].Content, want)
		}
	}
}

func TestPreferences_RoundTrip(t *testing.T) {
	m, _ := newTestManager(nil)
	ctx := context.Background()

	id, _ := m.GetOrCreate(ctx, "")

	prefs, err := m.Preferences(id)
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if prefs.ResponseMode != "detailed" {
		t.Errorf("expected default preferences, got %+v", prefs)
	}

	prefs.UserName = "Dana"
	prefs.UseRAG = true
	if err := m.SetPreferences(id, prefs); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}

	got, _ := m.Preferences(id)
	if got.UserName != "Dana" || !got.UseRAG {
		t.Errorf("preferences not updated: %+v", got)
	}
}

func TestReap_ExpiresIdleSessions(t *testing.T) {
	m, clock := newTestManager(nil)
	ctx := context.Background()

	idle, _ := m.GetOrCreate(ctx, "")
	clock.advance(20 * time.Minute)
	fresh, _ := m.GetOrCreate(ctx, "")
	clock.advance(15 * time.Minute)

	// idle session is 35 minutes old, fresh is 15.
	if n := m.Reap(); n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if _, err := m.GetStatus(idle); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("idle session should be gone, got err=%v", err)
	}
	if _, err := m.GetStatus(fresh); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
	if stats := m.GetStats(); stats.TotalReaped != 1 || stats.Active != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestReap_SkipsInFlightSessions(t *testing.T) {
	m, clock := newTestManager(nil)
	ctx := context.Background()

	id, _ := m.GetOrCreate(ctx, "")
	if err := m.BeginSubmission(id); err != nil {
		t.Fatalf("BeginSubmission: %v", err)
	}
	clock.advance(time.Hour)

	if n := m.Reap(); n != 0 {
		t.Errorf("in-flight session must not be reaped, got %d", n)
	}
	if _, err := m.GetStatus(id); err != nil {
		t.Errorf("session should still exist: %v", err)
	}
}

func TestPersist_RestoresAcrossSessions(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "rigchat.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	m, clock := newTestManager(store)
	ctx := context.Background()

	id, err := m.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := m.AppendMessage(id, model.NewMessage(model.RoleUser, "remember me")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := m.Persist(ctx, id); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	// Expire the session, then reopen it by id.
	clock.advance(time.Hour)
	if n := m.Reap(); n != 1 {
		t.Fatalf("expected session to be reaped, got %d", n)
	}

	restored, err := m.GetOrCreate(ctx, id)
	if err != nil {
		t.Fatalf("GetOrCreate after reap: %v", err)
	}
	if restored != id {
		t.Fatalf("expected restore of %s, got %s", id, restored)
	}
	history, err := m.History(id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Content != "remember me" {
		t.Errorf("history not restored: %v", history)
	}
}

func TestClose_PersistsDirtySessions(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "rigchat.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	m, _ := newTestManager(store)
	ctx := context.Background()

	id, _ := m.GetOrCreate(ctx, "")
	if err := m.AppendMessage(id, model.NewMessage(model.RoleUser, "unsaved")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sc, ok, err := store.LoadConversation(ctx, id)
	if err != nil || !ok {
		t.Fatalf("LoadConversation: ok=%v err=%v", ok, err)
	}
	if len(sc.Messages) != 1 || sc.Messages[0].Content != "unsaved" {
		t.Errorf("dirty session was not persisted: %+v", sc.Messages)
	}
}

func TestStartReaper_RunsInBackground(t *testing.T) {
	m, clock := newTestManager(nil)
	m.cfg.ReapInterval = 10 * time.Millisecond
	ctx := context.Background()

	id, _ := m.GetOrCreate(ctx, "")
	clock.advance(time.Hour)

	m.StartReaper()
	defer m.Close(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if _, err := m.GetStatus(id); errors.Is(err, ErrSessionNotFound) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("reaper did not expire the idle session")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
