package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.ReadingSessionStore = (*SessionStore)(nil)

// SessionStore keeps active reading sessions in a map
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.ReadingSession
}

// NewSessionStore creates an empty in-process session store
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.ReadingSession)}
}

func (s *SessionStore) Swap(ctx context.Context, session *domain.ReadingSession) (*domain.ReadingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.sessions[session.OwnerID]
	s.sessions[session.OwnerID] = *session
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

func (s *SessionStore) Take(ctx context.Context, ownerID string) (*domain.ReadingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.sessions[ownerID]
	if !ok {
		return nil, nil
	}
	delete(s.sessions, ownerID)
	return &prev, nil
}
