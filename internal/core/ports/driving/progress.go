package driving

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// ParagraphRef addresses one paragraph of an owner's topic
type ParagraphRef struct {
	OwnerID     string
	TopicID     string
	ChapterID   string
	ParagraphID string
}

// MarkReadRequest marks a paragraph read against the content the reader saw
type MarkReadRequest struct {
	ParagraphRef
	Content string
}

// MarkReadResult reports the record written and the chapter state after it
type MarkReadResult struct {
	Record           *domain.ReadingRecord `json:"record"`
	Chapter          domain.ChapterTally   `json:"chapter"`
	ChapterCompleted bool                  `json:"chapter_completed"`
}

// ProgressService records reading progress and reading time
type ProgressService interface {
	// MarkRead records the paragraph as read.
	// Returns domain.ErrStaleReference if the paragraph is gone or the
	// content differs from what is stored.
	MarkRead(ctx context.Context, req MarkReadRequest) (*MarkReadResult, error)

	// MarkUnread reverts a read
	MarkUnread(ctx context.Context, ref ParagraphRef) (*MarkReadResult, error)

	// StartReading opens a reading session, closing any other active one
	StartReading(ctx context.Context, ref ParagraphRef) (*domain.ReadingTime, error)

	// StopReading closes the owner's active session, if any
	StopReading(ctx context.Context, ownerID string) (*domain.ReadingTime, error)

	// ChapterProgress derives per-chapter completion
	ChapterProgress(ctx context.Context, ownerID, topicID string) ([]domain.ChapterProgress, error)

	// PurgeOrphans deletes records whose paragraph no longer exists
	PurgeOrphans(ctx context.Context) (int64, error)
}

// ResumptionService plans re-entry into a topic
type ResumptionService interface {
	Analyze(ctx context.Context, ownerID, topicID string) (*domain.ResumptionInfo, error)
}

// CacheService answers cache freshness questions
type CacheService interface {
	// ShouldRegenerate reports whether the topic's cached outline is absent
	// or older than maxAgeHours (domain.DefaultMaxAgeHours when <= 0).
	ShouldRegenerate(ctx context.Context, ownerID, topicID string, maxAgeHours int) (*domain.Staleness, error)
}
