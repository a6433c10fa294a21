package driving

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// GenerateOutlineRequest is the input of outline generation
type GenerateOutlineRequest struct {
	OwnerID  string
	TopicID  string
	Options  domain.OutlineOptions
	Progress domain.ProgressFunc
}

// OutlineService generates and reads topic outlines
type OutlineService interface {
	// GetExisting returns the stored outline.
	// Returns domain.ErrNotFound if the topic has none yet.
	GetExisting(ctx context.Context, ownerID, topicID string) (*domain.Outline, error)

	// Ensure returns the stored outline, generating it first if absent.
	// Repeated calls never produce a second outline.
	Ensure(ctx context.Context, req GenerateOutlineRequest) (*domain.Outline, error)

	// EnqueueEnsure schedules Ensure on the worker
	EnqueueEnsure(ctx context.Context, req GenerateOutlineRequest) (*domain.Task, error)

	// Regenerate replaces the outline with a freshly generated one.
	// All generated paragraphs and reading records of the topic are
	// destroyed; confirm must be true.
	Regenerate(ctx context.Context, req GenerateOutlineRequest, confirm bool) (*domain.Outline, error)
}

// GenerateParagraphRequest is the input of paragraph generation
type GenerateParagraphRequest struct {
	OwnerID     string
	TopicID     string
	ParagraphID string
	Options     domain.ParagraphOptions
	Progress    domain.ProgressFunc
}

// ParagraphService fills paragraph stubs one at a time
type ParagraphService interface {
	// Generate produces the body of a stub. A paragraph that is already
	// generated is returned unchanged.
	Generate(ctx context.Context, req GenerateParagraphRequest) (*domain.Paragraph, error)
}
