package driven

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// CacheStore is the durable cache tier (PostgreSQL).
// Entries are shared across topics and owners.
type CacheStore interface {
	// Latest returns the newest entry of a content type for a topic.
	// Returns domain.ErrNotFound if there is none.
	Latest(ctx context.Context, topicID string, contentType domain.ContentType) (*domain.CacheEntry, error)

	// FindByFingerprint returns the newest entry with the given fingerprint
	// regardless of topic. Returns domain.ErrNotFound if there is none.
	FindByFingerprint(ctx context.Context, contentType domain.ContentType, fingerprint string) (*domain.CacheEntry, error)

	// Put stores an entry
	Put(ctx context.Context, entry *domain.CacheEntry) error

	// DeleteByTopic removes every entry written for a topic
	DeleteByTopic(ctx context.Context, topicID string) error
}

// SnapshotCache is the process/client tier: the hydrated outline tree of a
// topic as last observed. It is advisory and may drop entries at any time.
type SnapshotCache interface {
	// Get returns the cached tree or domain.ErrCacheMiss
	Get(ctx context.Context, topicID string) (*domain.Outline, error)

	// Set caches a tree
	Set(ctx context.Context, outline *domain.Outline) error

	// Invalidate drops a topic's tree
	Invalidate(ctx context.Context, topicID string) error
}

// ReadingSessionStore holds the single active reading session of each owner
type ReadingSessionStore interface {
	// Swap makes session the owner's active session and returns the one it
	// replaced, or nil.
	Swap(ctx context.Context, session *domain.ReadingSession) (*domain.ReadingSession, error)

	// Take removes and returns the owner's active session, or nil
	Take(ctx context.Context, ownerID string) (*domain.ReadingSession, error)
}
