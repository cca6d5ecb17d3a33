package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"pillchat-backend/internal/conversation"
	"pillchat-backend/internal/llm"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Session is everything kept for one connected user. It lives from session
// start until End is called or it sits idle longer than the store TTL.
type Session struct {
	ID            string              `json:"id"`
	State         *conversation.State `json:"state"`
	TermsAccepted bool                `json:"termsAccepted"`
	// Endpoint holds per-session overrides of the configured endpoint.
	Endpoint  llm.Endpoint `json:"endpoint"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (s *Session) Clone() *Session {
	c := *s
	if s.State != nil {
		c.State = s.State.Clone()
	}
	return &c
}

// SessionStore keeps one Session per session ID. Implementations hand out
// copies; callers write changes back with Save.
type SessionStore interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	// Sweep removes sessions idle since before cutoff and returns their IDs.
	Sweep(ctx context.Context, cutoff time.Time) ([]string, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore returns a process-local store. Sessions idle longer than ttl
// are treated as gone; ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; ok {
		return errors.Wrap(ErrExists, sess.ID)
	}
	now := m.now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expiredLocked(sess) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	sess.UpdatedAt = m.now()
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for id, sess := range m.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// Len reports the number of live sessions, expired ones included until swept.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) expiredLocked(sess *Session) bool {
	return m.ttl > 0 && m.now().Sub(sess.UpdatedAt) > m.ttl
}
