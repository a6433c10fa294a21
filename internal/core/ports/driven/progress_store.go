package driven

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// ProgressStore handles reading record persistence (PostgreSQL).
//
// MarkRead and MarkUnread serialize on the chapter so the returned tally
// reflects exactly one write. Upserts are keyed by (owner, topic, paragraph).
type ProgressStore interface {
	// MarkRead upserts a read record and returns the chapter's read counts
	// before and after the write. Returns domain.ErrStaleReference if the
	// paragraph is gone or not generated.
	MarkRead(ctx context.Context, record *domain.ReadingRecord) (domain.ChapterTally, error)

	// MarkUnread flips a record to unread, keeping accumulated reading time
	MarkUnread(ctx context.Context, record *domain.ReadingRecord) (domain.ChapterTally, error)

	// ListRecords lists an owner's records for a topic
	ListRecords(ctx context.Context, ownerID, topicID string) ([]*domain.ReadingRecord, error)

	// AddReadingTime adds record.ReadingMs to the stored total, creating
	// an unread record when none exists.
	AddReadingTime(ctx context.Context, record *domain.ReadingRecord) error

	// DeleteOrphans removes records whose paragraph no longer exists
	DeleteOrphans(ctx context.Context) (int64, error)
}
