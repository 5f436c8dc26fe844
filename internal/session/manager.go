package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"duplex/internal/domain"
	"duplex/internal/protocol/ratchet"
)

// Manager tracks the live sessions of one process, typically the daemon side
// with one session per connected client.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	cfg      Config
	log      *logrus.Logger
}

// NewManager builds a Manager whose sessions share cfg.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		cfg:      cfg,
		log:      cfg.Logger,
	}
}

// CreateInitiator opens and registers a client-side session.
func (m *Manager) CreateInitiator(secret []byte, peerPub domain.X25519Public) (*Session, error) {
	s, err := NewInitiator(secret, peerPub, m.cfg)
	if err != nil {
		return nil, err
	}
	m.add(s)
	return s, nil
}

// CreateResponder opens and registers a daemon-side session.
func (m *Manager) CreateResponder(secret []byte, pair domain.DHKeyPair) (*Session, error) {
	s, err := NewResponder(secret, pair, m.cfg)
	if err != nil {
		return nil, err
	}
	m.add(s)
	return s, nil
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{
		"session": s.ID(),
		"total":   m.Len(),
	}).Info("session registered")
}

// Get returns the session with the given id.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes the session with the given id and drops it from the manager.
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	m.log.WithField("session", id).Info("session removed")
	return true
}

// RotateDue walks all sessions and rotates every data key past its budget.
// Sessions whose ratchet cannot step yet are left for the next sweep. It
// returns how many sessions rotated.
func (m *Manager) RotateDue() int {
	m.mu.Lock()
	due := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		due = append(due, s)
	}
	m.mu.Unlock()

	rotated := 0
	for _, s := range due {
		if !s.NeedsRotation() {
			continue
		}
		switch err := s.RotateKeys(); {
		case err == nil:
			rotated++
		case errors.Is(err, ratchet.ErrStepPending), errors.Is(err, ratchet.ErrNotReady):
			m.log.WithField("session", s.ID()).Debug("rotation waiting on peer")
		default:
			m.log.WithError(err).WithField("session", s.ID()).Warn("rotation failed")
		}
	}
	return rotated
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes every session and empties the manager.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
