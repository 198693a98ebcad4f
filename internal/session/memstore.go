package session

import (
	"context"
	"sync"
	"time"

	"github.com/mosaicfin/onboard/model"
)

// MemoryStore is an in-memory Store. Suitable for testing and
// single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		now:      time.Now,
	}
}

// Get returns a copy of the session, or ErrNotFound if it is missing or
// expired. Expired records are deleted opportunistically.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	sess, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	if sess.Expired(s.now()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	return sess.Clone(), nil
}

// Put stores a copy of the session.
func (s *MemoryStore) Put(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Delete removes the session. Missing sessions are not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of records (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
