package history

import (
	"context"
	"sync"

	"github.com/mosaicfin/onboard/model"
)

// MemoryStore is an in-memory Store. Suitable for testing and
// single-instance deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]model.SubmissionEvent // keyed by session ID
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]model.SubmissionEvent),
	}
}

// Append adds an event to the session's trail.
func (s *MemoryStore) Append(_ context.Context, event model.SubmissionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

// List returns a copy of the session's events in append order. Events
// recorded under a different tenant are not visible.
func (s *MemoryStore) List(_ context.Context, tenant, sessionID string) ([]model.SubmissionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	out := make([]model.SubmissionEvent, 0, len(events))
	for _, e := range events {
		if e.Tenant == tenant {
			out = append(out, e)
		}
	}
	return out, nil
}
