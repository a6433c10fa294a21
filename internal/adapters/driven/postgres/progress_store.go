package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProgressStore = (*ProgressStore)(nil)

// ProgressStore implements driven.ProgressStore using PostgreSQL.
//
// Every write locks the chapter row first, so the before and after counts
// it returns bracket exactly one write even when reads of the same chapter
// race.
type ProgressStore struct {
	db *DB
}

// NewProgressStore creates a new ProgressStore
func NewProgressStore(db *DB) *ProgressStore {
	return &ProgressStore{db: db}
}

// lockChapter takes the chapter row lock and checks the paragraph is a
// generated member of it. Returns the chapter's paragraph count.
func lockChapter(ctx context.Context, tx *sql.Tx, r *domain.ReadingRecord) (int, error) {
	var total int
	err := tx.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM paragraphs WHERE chapter_id = c.id)
		FROM chapters c
		WHERE c.id = $1 AND c.topic_id = $2
		FOR UPDATE
	`, r.ChapterID, r.TopicID).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, domain.ErrStaleReference
	}
	if err != nil {
		return 0, fmt.Errorf("lock chapter: %w", err)
	}

	var generated bool
	err = tx.QueryRowContext(ctx, `
		SELECT generated FROM paragraphs WHERE id = $1 AND chapter_id = $2
	`, r.ParagraphID, r.ChapterID).Scan(&generated)
	if err == sql.ErrNoRows || (err == nil && !generated) {
		return 0, domain.ErrStaleReference
	}
	if err != nil {
		return 0, fmt.Errorf("check paragraph: %w", err)
	}
	return total, nil
}

// readCount counts the owner's read paragraphs of a chapter and the time
// of the latest read
func readCount(ctx context.Context, tx *sql.Tx, ownerID, topicID, chapterID string) (int, *time.Time, error) {
	var n int
	var last sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(rr.read_at)
		FROM reading_records rr
		JOIN paragraphs p ON p.id = rr.paragraph_id AND p.chapter_id = $3
		WHERE rr.owner_id = $1 AND rr.topic_id = $2 AND rr.is_read
	`, ownerID, topicID, chapterID).Scan(&n, &last)
	if err != nil {
		return 0, nil, fmt.Errorf("count read paragraphs: %w", err)
	}
	return n, TimePtr(last), nil
}

func (s *ProgressStore) write(ctx context.Context, r *domain.ReadingRecord, upsert string, args ...any) (domain.ChapterTally, error) {
	tally := domain.ChapterTally{ChapterID: r.ChapterID}
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		total, err := lockChapter(ctx, tx, r)
		if err != nil {
			return err
		}
		tally.Total = total

		if tally.ReadBefore, _, err = readCount(ctx, tx, r.OwnerID, r.TopicID, r.ChapterID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
			return fmt.Errorf("upsert reading record: %w", err)
		}
		var last *time.Time
		if tally.ReadAfter, last, err = readCount(ctx, tx, r.OwnerID, r.TopicID, r.ChapterID); err != nil {
			return err
		}
		if tally.Complete() {
			tally.CompletedAt = last
		}
		return nil
	})
	return tally, err
}

// MarkRead upserts a read record, last writer wins
func (s *ProgressStore) MarkRead(ctx context.Context, r *domain.ReadingRecord) (domain.ChapterTally, error) {
	return s.write(ctx, r, `
		INSERT INTO reading_records (
			owner_id, topic_id, chapter_id, paragraph_id, content_fingerprint, is_read, read_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, TRUE, $6, NOW())
		ON CONFLICT (owner_id, topic_id, paragraph_id) DO UPDATE SET
			chapter_id = EXCLUDED.chapter_id,
			content_fingerprint = EXCLUDED.content_fingerprint,
			is_read = TRUE,
			read_at = EXCLUDED.read_at,
			updated_at = NOW()
	`,
		r.OwnerID, r.TopicID, r.ChapterID, r.ParagraphID, r.ContentFingerprint, NullTime(r.ReadAt),
	)
}

// MarkUnread flips an existing record to unread
func (s *ProgressStore) MarkUnread(ctx context.Context, r *domain.ReadingRecord) (domain.ChapterTally, error) {
	return s.write(ctx, r, `
		UPDATE reading_records
		SET is_read = FALSE, read_at = NULL, updated_at = NOW()
		WHERE owner_id = $1 AND topic_id = $2 AND paragraph_id = $3
	`,
		r.OwnerID, r.TopicID, r.ParagraphID,
	)
}

// ListRecords lists an owner's records for a topic
func (s *ProgressStore) ListRecords(ctx context.Context, ownerID, topicID string) ([]*domain.ReadingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, topic_id, chapter_id, paragraph_id, content_fingerprint,
		       is_read, read_at, reading_ms, updated_at
		FROM reading_records
		WHERE owner_id = $1 AND topic_id = $2
	`, ownerID, topicID)
	if err != nil {
		return nil, fmt.Errorf("query reading records: %w", err)
	}
	defer rows.Close()

	var records []*domain.ReadingRecord
	for rows.Next() {
		var r domain.ReadingRecord
		var readAt sql.NullTime
		err := rows.Scan(
			&r.OwnerID,
			&r.TopicID,
			&r.ChapterID,
			&r.ParagraphID,
			&r.ContentFingerprint,
			&r.IsRead,
			&readAt,
			&r.ReadingMs,
			&r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan reading record: %w", err)
		}
		r.ReadAt = TimePtr(readAt)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reading records: %w", err)
	}
	return records, nil
}

// AddReadingTime accumulates reading time, creating an unread record if needed
func (s *ProgressStore) AddReadingTime(ctx context.Context, r *domain.ReadingRecord) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := lockChapter(ctx, tx, r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reading_records (
				owner_id, topic_id, chapter_id, paragraph_id, content_fingerprint, reading_ms, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (owner_id, topic_id, paragraph_id) DO UPDATE SET
				reading_ms = reading_records.reading_ms + EXCLUDED.reading_ms,
				updated_at = NOW()
		`, r.OwnerID, r.TopicID, r.ChapterID, r.ParagraphID, r.ContentFingerprint, r.ReadingMs)
		if err != nil {
			return fmt.Errorf("add reading time: %w", err)
		}
		return nil
	})
}

// DeleteOrphans removes records whose paragraph no longer exists
func (s *ProgressStore) DeleteOrphans(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reading_records rr
		WHERE NOT EXISTS (SELECT 1 FROM paragraphs p WHERE p.id = rr.paragraph_id)
	`)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
