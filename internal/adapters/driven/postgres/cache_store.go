package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CacheStore = (*CacheStore)(nil)

// CacheStore implements the durable cache tier using PostgreSQL.
// Entries are append-only; readers take the newest match.
type CacheStore struct {
	db *DB
}

// NewCacheStore creates a new CacheStore
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

const cacheColumns = `id, topic_id, content_type, fingerprint, inputs, artifact, elapsed_ms, created_at`

func (s *CacheStore) newest(ctx context.Context, where string, args ...any) (*domain.CacheEntry, error) {
	query := `SELECT ` + cacheColumns + ` FROM cache_entries WHERE ` + where + ` ORDER BY created_at DESC, id DESC LIMIT 1`

	var e domain.CacheEntry
	var inputs, artifact []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&e.ID,
		&e.TopicID,
		&e.ContentType,
		&e.Fingerprint,
		&inputs,
		&artifact,
		&e.ElapsedMs,
		&e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	if err := json.Unmarshal(inputs, &e.Inputs); err != nil {
		return nil, fmt.Errorf("decode cache inputs: %w", err)
	}
	e.Artifact = json.RawMessage(artifact)
	return &e, nil
}

// Latest returns the newest entry of a content type for a topic
func (s *CacheStore) Latest(ctx context.Context, topicID string, contentType domain.ContentType) (*domain.CacheEntry, error) {
	return s.newest(ctx, `topic_id = $1 AND content_type = $2`, topicID, string(contentType))
}

// FindByFingerprint returns the newest entry with the fingerprint, from any topic
func (s *CacheStore) FindByFingerprint(ctx context.Context, contentType domain.ContentType, fingerprint string) (*domain.CacheEntry, error) {
	return s.newest(ctx, `content_type = $1 AND fingerprint = $2`, string(contentType), fingerprint)
}

// Put stores an entry and sets its ID
func (s *CacheStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	inputs, err := json.Marshal(entry.Inputs)
	if err != nil {
		return fmt.Errorf("encode cache inputs: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO cache_entries (topic_id, content_type, fingerprint, inputs, artifact, elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		entry.TopicID,
		string(entry.ContentType),
		entry.Fingerprint,
		inputs,
		[]byte(entry.Artifact),
		entry.ElapsedMs,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// DeleteByTopic removes every entry written for a topic
func (s *CacheStore) DeleteByTopic(ctx context.Context, topicID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE topic_id = $1`, topicID); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}
