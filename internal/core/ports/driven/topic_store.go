package driven

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// TopicStore handles topic persistence (PostgreSQL)
type TopicStore interface {
	// Get retrieves a topic by ID
	Get(ctx context.Context, id string) (*domain.Topic, error)

	// Create inserts a topic.
	// Returns domain.ErrAlreadyExists if a topic with the same ID exists.
	Create(ctx context.Context, topic *domain.Topic) error

	// ListByOwner lists an owner's topics, newest first
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Topic, error)

	// Delete removes a topic with its outline, reading records and cache entries
	Delete(ctx context.Context, id string) error
}

// OutlineStore handles outline, chapter and paragraph persistence (PostgreSQL).
// Chapters and paragraphs are only ever written as a complete set.
type OutlineStore interface {
	// GetOutline retrieves the full outline tree of a topic.
	// Returns domain.ErrNotFound if the topic has no outline.
	GetOutline(ctx context.Context, topicID string) (*domain.Outline, error)

	// SaveOutline writes the outline row, its chapters and paragraph stubs
	// in one transaction. Returns domain.ErrAlreadyExists if the topic
	// already has an outline; nothing is written in that case.
	SaveOutline(ctx context.Context, outline *domain.Outline) error

	// ReplaceOutline deletes the topic's outline, chapters, paragraphs and
	// reading records and writes the new outline, all in one transaction.
	ReplaceOutline(ctx context.Context, outline *domain.Outline) error

	// DeleteOutline removes a topic's outline tree and its reading records
	DeleteOutline(ctx context.Context, topicID string) error

	// GetParagraph retrieves a single paragraph
	GetParagraph(ctx context.Context, paragraphID string) (*domain.Paragraph, error)

	// CompleteParagraph stores generated content on a stub.
	// Returns domain.ErrAlreadyExists if the paragraph is no longer a stub
	// and domain.ErrNotFound if it no longer exists.
	CompleteParagraph(ctx context.Context, paragraph *domain.Paragraph) error
}
