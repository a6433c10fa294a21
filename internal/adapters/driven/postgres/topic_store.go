package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TopicStore = (*TopicStore)(nil)

// TopicStore implements driven.TopicStore using PostgreSQL
type TopicStore struct {
	db *DB
}

// NewTopicStore creates a new TopicStore
func NewTopicStore(db *DB) *TopicStore {
	return &TopicStore{db: db}
}

const topicColumns = `id, owner_id, title, origin, source_locator, created_at, updated_at`

func scanTopic(row interface{ Scan(...any) error }) (*domain.Topic, error) {
	var t domain.Topic
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Title,
		&t.Origin,
		&t.SourceLocator,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get retrieves a topic by ID
func (s *TopicStore) Get(ctx context.Context, id string) (*domain.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE id = $1`

	t, err := scanTopic(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return t, nil
}

// Create inserts a topic. The primary key is the resolved identity, so a
// concurrent creator of the same (title, owner) loses on the conflict.
func (s *TopicStore) Create(ctx context.Context, topic *domain.Topic) error {
	query := `
		INSERT INTO topics (` + topicColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		topic.ID,
		topic.OwnerID,
		topic.Title,
		string(topic.Origin),
		topic.SourceLocator,
		topic.CreatedAt,
		topic.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// ListByOwner lists an owner's topics, newest first
func (s *TopicStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []*domain.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// Delete removes a topic. Outline, chapters, paragraphs and reading
// records cascade; cache entries written for the topic are removed in the
// same transaction.
func (s *TopicStore) Delete(ctx context.Context, id string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE topic_id = $1`, id); err != nil {
			return fmt.Errorf("delete cache entries: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete topic: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
