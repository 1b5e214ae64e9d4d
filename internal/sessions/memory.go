package sessions

import (
	"context"
	"sync"
	"time"

	"eduportal.org/internal/auth"
)

// Memory keeps sessions in process. Suitable for a single replica and tests.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*auth.Session
	byUser   map[string]map[string]struct{}
	now      func() time.Time
}

func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		sessions: make(map[string]*auth.Session),
		byUser:   make(map[string]map[string]struct{}),
		now:      o.now,
	}
}

func (m *Memory) Create(_ context.Context, userID string, expiresAt time.Time) (auth.Session, error) {
	s, err := newSession(userID, m.now(), expiresAt)
	if err != nil {
		return auth.Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := s
	m.sessions[s.ID] = &stored
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]struct{})
	}
	m.byUser[userID][s.ID] = struct{}{}
	return s, nil
}

func (m *Memory) Revoke(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		m.revokeLocked(s, m.now())
	}
	return nil
}

func (m *Memory) RevokeUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for id := range m.byUser[userID] {
		if s, ok := m.sessions[id]; ok && s.Active(now) {
			m.revokeLocked(s, now)
			n++
		}
	}
	return n, nil
}

func (m *Memory) revokeLocked(s *auth.Session, now time.Time) {
	if s.Revoked {
		return
	}
	at := now.UTC()
	s.Revoked = true
	s.RevokedAt = &at
}

// IsActive drops the entry on the spot when it has expired.
func (m *Memory) IsActive(_ context.Context, sessionID string) (bool, error) {
	now := m.now()
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	active := ok && s.Active(now)
	expired := ok && !now.Before(s.ExpiresAt)
	m.mu.RUnlock()

	if expired {
		m.mu.Lock()
		if s, ok := m.sessions[sessionID]; ok && !now.Before(s.ExpiresAt) {
			m.deleteLocked(s)
		}
		m.mu.Unlock()
	}
	return active, nil
}

func (m *Memory) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.ExpiresAt.Before(before) {
			m.deleteLocked(s)
			n++
		}
	}
	return n, nil
}

// lookup returns a copy of the stored session.
func (m *Memory) lookup(sessionID string) (auth.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return auth.Session{}, false
	}
	return *s, true
}

func (m *Memory) deleteLocked(s *auth.Session) {
	delete(m.sessions, s.ID)
	if ids := m.byUser[s.UserID]; ids != nil {
		delete(ids, s.ID)
		if len(ids) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
}
