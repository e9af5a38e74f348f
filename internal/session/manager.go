package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultHistoryCapacity = 50

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrLimitReached is returned when no new conversation can be started.
	ErrLimitReached = errors.New("maximum session limit reached")
)

// Manager tracks server-side assistant conversations keyed by session
// token.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*managedSession
	maxSessions int
	historyCap  int
}

type managedSession struct {
	Session *Session
	history *RingBuffer[Turn]
}

// NewManager creates a manager that keeps at most maxSessions active
// conversations and the last historyCap turns of each.
func NewManager(maxSessions, historyCap int) *Manager {
	if historyCap <= 0 {
		historyCap = defaultHistoryCapacity
	}
	return &Manager{
		sessions:    make(map[string]*managedSession),
		maxSessions: maxSessions,
		historyCap:  historyCap,
	}
}

// Resolve returns the conversation named by token when it exists, is
// active and belongs to userID. Otherwise it starts a new one with a fresh
// token. The bool reports whether a conversation was created.
func (m *Manager) Resolve(token, userID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != "" {
		if ms, ok := m.sessions[token]; ok && ms.Session.State == StateActive && ms.Session.UserID == userID {
			return *ms.Session, false, nil
		}
	}

	activeCount := 0
	for _, ms := range m.sessions {
		if ms.Session.State == StateActive {
			activeCount++
		}
	}
	if activeCount >= m.maxSessions {
		return Session{}, false, fmt.Errorf("%w (%d)", ErrLimitReached, m.maxSessions)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		State:      StateActive,
		CreatedAt:  now,
		LastActive: now,
	}
	m.sessions[sess.ID] = &managedSession{
		Session: sess,
		history: NewRingBuffer[Turn](m.historyCap),
	}
	return *sess, true, nil
}

// RecordTurn appends a turn to its conversation.
func (m *Manager) RecordTurn(turn Turn) error {
	m.mu.Lock()
	ms, ok := m.sessions[turn.SessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, turn.SessionID)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	ms.Session.Turns++
	ms.Session.LastActive = turn.Timestamp
	m.mu.Unlock()

	ms.history.Write(turn)
	return nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *ms.Session, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []Session {
	m.mu.RLock()
	result := make([]Session, 0, len(m.sessions))
	for _, ms := range m.sessions {
		result = append(result, *ms.Session)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// History returns the retained turns of a session in order.
func (m *Manager) History(id string) ([]Turn, error) {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ms.history.ReadAll(), nil
}

// LastTurn returns the most recent retained turn of a session.
func (m *Manager) LastTurn(id string) (Turn, bool, error) {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return Turn{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	turn, found := ms.history.Last()
	return turn, found, nil
}

// Close ends a conversation. A closed token is never resumed; the next
// query carrying it starts a new conversation.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ms.Session.State = StateClosed
	return nil
}

// ActiveCount returns the number of active conversations.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, ms := range m.sessions {
		if ms.Session.State == StateActive {
			n++
		}
	}
	return n
}
