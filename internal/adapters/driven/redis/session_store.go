package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ReadingSessionStore = (*SessionStore)(nil)

const sessionPrefix = "tutor:reading:"

// DefaultSessionTTL bounds how long an abandoned session is kept
const DefaultSessionTTL = 12 * time.Hour

// SessionStore keeps one active reading session per owner.
// Sessions use Redis TTL so a reader who never stops does not leak keys.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a new Redis-backed SessionStore
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{client: client, ttl: ttl}
}

// Swap stores session and returns the one it replaced in a single SET GET
func (s *SessionStore) Swap(ctx context.Context, session *domain.ReadingSession) (*domain.ReadingSession, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	prev, err := s.client.SetArgs(ctx, sessionPrefix+session.OwnerID, data, redis.SetArgs{
		TTL: s.ttl,
		Get: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to swap session: %w", err)
	}
	return decodeSession(prev)
}

// Take removes and returns the owner's session
func (s *SessionStore) Take(ctx context.Context, ownerID string) (*domain.ReadingSession, error) {
	prev, err := s.client.GetDel(ctx, sessionPrefix+ownerID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take session: %w", err)
	}
	return decodeSession(prev)
}

func decodeSession(data string) (*domain.ReadingSession, error) {
	var session domain.ReadingSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}
