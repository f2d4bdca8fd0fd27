// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSubmissionInFlight is returned when a client sends a new message
	// while the assistant is still answering the previous one.
	ErrSubmissionInFlight = errors.New("a submission is already in flight for this conversation")

	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// IdleTimeout is how long a session may sit idle before it is reaped
	// (default: 30 minutes).
	IdleTimeout time.Duration

	// ReapInterval is how often the reaper scans for idle sessions
	// (default: 1 minute).
	ReapInterval time.Duration

	// AutoPersist saves dirty sessions to storage on reap and close.
	AutoPersist bool
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  30 * time.Minute,
		ReapInterval: time.Minute,
		AutoPersist:  true,
	}
}

// =============================================================================
// SESSION
// =============================================================================

// session is the per-conversation state. All fields are guarded by the
// manager's mutex; callers interact through Manager methods only.
type session struct {
	id           string
	conversation *model.Conversation
	preferences  storage.Preferences
	createdAt    time.Time
	lastActivity time.Time
	inFlight     bool
	dirty        bool
}

// Status is a point-in-time view of one session.
type Status struct {
	ID           string
	CreatedAt    time.Time
	IdleTime     time.Duration
	MessageCount int
	InFlight     bool
	Dirty        bool
}

// Stats summarizes the manager's lifetime activity.
type Stats struct {
	Active       int
	TotalCreated int
	TotalReaped  int
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager tracks live sessions keyed by conversation id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	store    *storage.Store
	cfg      Config

	created int
	reaped  int

	stopReaper chan struct{}
	reaperDone chan struct{}

	// now is swappable in tests.
	now func() time.Time
}

// NewManager creates a session manager. store may be nil, in which case
// sessions live in memory only and restarts lose history.
func NewManager(store *storage.Store, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	return &Manager{
		sessions: make(map[string]*session),
		store:    store,
		cfg:      cfg,
		now:      time.Now,
	}
}

// GetOrCreate returns the session for id, restoring it from storage when a
// snapshot exists, or creating a fresh one. An empty id gets a new
// conversation with a generated id; the returned id identifies the session.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			s.lastActivity = m.now()
			return s.id, nil
		}
	}

	conv, prefs, err := m.restore(ctx, id)
	if err != nil {
		return "", err
	}

	s := &session{
		id:           conv.ID,
		conversation: conv,
		preferences:  prefs,
		createdAt:    m.now(),
		lastActivity: m.now(),
	}
	m.sessions[s.id] = s
	m.created++
	log.Printf("SESSION_OPENED | id=%s messages=%d", s.id, len(conv.Messages))
	return s.id, nil
}

// restore loads a conversation snapshot and preferences from storage, or
// builds new ones. Caller holds the lock.
func (m *Manager) restore(ctx context.Context, id string) (*model.Conversation, storage.Preferences, error) {
	prefs := storage.DefaultPreferences()

	if id == "" {
		id = uuid.NewString()
	}

	if m.store != nil {
		sc, ok, err := m.store.LoadConversation(ctx, id)
		if err != nil {
			return nil, prefs, err
		}
		if ok {
			p, err := m.store.LoadPreferences(ctx, id)
			if err == nil {
				prefs = p
			}
			return sc.Restore(), prefs, nil
		}
	}

	conv := model.NewConversation()
	conv.ID = id
	return conv, prefs, nil
}

// =============================================================================
// SUBMISSION GUARD
// =============================================================================

// BeginSubmission marks the session as answering. A second submission while
// one is in flight is rejected so interleaved streams cannot corrupt the
// transcript.
func (m *Manager) BeginSubmission(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.inFlight {
		return ErrSubmissionInFlight
	}
	s.inFlight = true
	s.lastActivity = m.now()
	return nil
}

// EndSubmission clears the in-flight flag. Safe to call on an already
// cleared or unknown session.
func (m *Manager) EndSubmission(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.inFlight = false
		s.lastActivity = m.now()
	}
}

// =============================================================================
// CONVERSATION ACCESS
// =============================================================================

// AppendMessage adds a message to the session's conversation and marks it
// dirty for the next persistence pass.
func (m *Manager) AppendMessage(id string, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.conversation.Append(msg)
	s.dirty = true
	s.lastActivity = m.now()
	return nil
}

// History returns a copy of the session's message slice. The messages
// themselves are shared; callers must not mutate them.
func (m *Manager) History(id string) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]*model.Message, len(s.conversation.Messages))
	copy(out, s.conversation.Messages)
	return out, nil
}

// Snapshot returns the session's conversation in stored form, for export
// and persistence.
func (m *Manager) Snapshot(id string) (*storage.StoredConversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return storage.SnapshotConversation(s.conversation), nil
}

// MarkDirty flags the session for the next persistence pass. Used after
// in-place message mutation, such as a stream completing.
func (m *Manager) MarkDirty(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.dirty = true
		s.lastActivity = m.now()
	}
}

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences returns the session's current preferences.
func (m *Manager) Preferences(id string) (storage.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return storage.DefaultPreferences(), ErrSessionNotFound
	}
	return s.preferences, nil
}

// SetPreferences replaces the session's preferences.
func (m *Manager) SetPreferences(id string, prefs storage.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.preferences = prefs
	s.dirty = true
	s.lastActivity = m.now()
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Persist saves the session to storage if it is dirty. No-op without a
// store.
func (m *Manager) Persist(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if !s.dirty || m.store == nil {
		m.mu.Unlock()
		return nil
	}
	snapshot := storage.SnapshotConversation(s.conversation)
	prefs := s.preferences
	m.mu.Unlock()

	if err := m.store.SaveConversation(ctx, snapshot); err != nil {
		return err
	}
	if err := m.store.SavePreferences(ctx, snapshot.ID, prefs); err != nil {
		return err
	}

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.dirty = false
	}
	m.mu.Unlock()
	return nil
}

// =============================================================================
// REAPING
// =============================================================================

// StartReaper launches the background goroutine that expires idle sessions.
func (m *Manager) StartReaper() {
	m.mu.Lock()
	if m.stopReaper != nil {
		m.mu.Unlock()
		return
	}
	m.stopReaper = make(chan struct{})
	m.reaperDone = make(chan struct{})
	stop, done := m.stopReaper, m.reaperDone
	interval := m.cfg.ReapInterval
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Reap()
			case <-stop:
				return
			}
		}
	}()
}

// Reap expires sessions idle past the timeout, persisting dirty ones
// first. Sessions with a submission in flight are skipped. Returns the
// number of sessions removed.
func (m *Manager) Reap() int {
	m.mu.Lock()
	now := m.now()
	var expired []*session
	for id, s := range m.sessions {
		if s.inFlight {
			continue
		}
		if now.Sub(s.lastActivity) >= m.cfg.IdleTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
			m.reaped++
		}
	}
	autoPersist := m.cfg.AutoPersist && m.store != nil
	m.mu.Unlock()

	for _, s := range expired {
		if autoPersist && s.dirty {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.store.SaveConversation(ctx, storage.SnapshotConversation(s.conversation)); err != nil {
				log.Printf("SESSION_PERSIST_FAILED | id=%s err=%v", s.id, err)
			}
			cancel()
		}
		log.Printf("SESSION_EXPIRED | id=%s idle=%s", s.id, now.Sub(s.lastActivity).Truncate(time.Second))
	}
	return len(expired)
}

// Close stops the reaper and persists all dirty sessions.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.stopReaper != nil {
		close(m.stopReaper)
		done := m.reaperDone
		m.stopReaper = nil
		m.reaperDone = nil
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Persist(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// =============================================================================
// STATUS
// =============================================================================

// GetStatus returns a point-in-time view of one session.
func (m *Manager) GetStatus(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Status{}, ErrSessionNotFound
	}
	return Status{
		ID:           s.id,
		CreatedAt:    s.createdAt,
		IdleTime:     m.now().Sub(s.lastActivity),
		MessageCount: len(s.conversation.Messages),
		InFlight:     s.inFlight,
		Dirty:        s.dirty,
	}, nil
}

// GetStats returns lifetime counters for the manager.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Active:       len(m.sessions),
		TotalCreated: m.created,
		TotalReaped:  m.reaped,
	}
}
