package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.OutlineStore = (*OutlineStore)(nil)

// OutlineStore implements driven.OutlineStore using PostgreSQL.
// An outline, its chapters and its paragraph stubs are written in one
// transaction so readers never see a partial chapter list.
type OutlineStore struct {
	db *DB
}

// NewOutlineStore creates a new OutlineStore
func NewOutlineStore(db *DB) *OutlineStore {
	return &OutlineStore{db: db}
}

// GetOutline retrieves the full outline tree of a topic. The outline,
// chapter and paragraph reads share one snapshot so a concurrent
// ReplaceOutline is seen either entirely or not at all.
func (s *OutlineStore) GetOutline(ctx context.Context, topicID string) (*domain.Outline, error) {
	var outline *domain.Outline
	err := s.db.ReadSnapshot(ctx, func(tx *sql.Tx) error {
		o, err := readOutline(ctx, tx, topicID)
		if err != nil {
			return err
		}
		if o.Chapters, err = readChapters(ctx, tx, topicID); err != nil {
			return err
		}
		outline = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outline, nil
}

func readOutline(ctx context.Context, tx *sql.Tx, topicID string) (*domain.Outline, error) {
	query := `
		SELECT topic_id, title, description, difficulty, estimated_minutes,
		       total_chapters, total_paragraphs, generation_options, model_tag, created_at
		FROM outlines
		WHERE topic_id = $1
	`

	var o domain.Outline
	var options []byte
	err := tx.QueryRowContext(ctx, query, topicID).Scan(
		&o.TopicID,
		&o.Title,
		&o.Description,
		&o.Difficulty,
		&o.EstimatedMinutes,
		&o.TotalChapters,
		&o.TotalParagraphs,
		&options,
		&o.ModelTag,
		&o.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outline: %w", err)
	}
	if err := json.Unmarshal(options, &o.Options); err != nil {
		return nil, fmt.Errorf("decode generation options: %w", err)
	}
	return &o, nil
}

func readChapters(ctx context.Context, tx *sql.Tx, topicID string) ([]*domain.Chapter, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, topic_id, idx, title, description, metadata
		FROM chapters
		WHERE topic_id = $1
		ORDER BY idx
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query chapters: %w", err)
	}
	defer rows.Close()

	var chapters []*domain.Chapter
	byID := make(map[string]*domain.Chapter)
	for rows.Next() {
		var ch domain.Chapter
		var metadata []byte
		if err := rows.Scan(&ch.ID, &ch.TopicID, &ch.Index, &ch.Title, &ch.Description, &metadata); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		if err := json.Unmarshal(metadata, &ch.Metadata); err != nil {
			return nil, fmt.Errorf("decode chapter metadata: %w", err)
		}
		chapters = append(chapters, &ch)
		byID[ch.ID] = &ch
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	rows.Close()

	prows, err := tx.QueryContext(ctx, `
		SELECT `+paragraphColumns+`
		FROM paragraphs p
		JOIN chapters c ON c.id = p.chapter_id
		WHERE p.topic_id = $1
		ORDER BY c.idx, p.idx
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("query paragraphs: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		p, err := scanParagraph(prows)
		if err != nil {
			return nil, fmt.Errorf("scan paragraph: %w", err)
		}
		ch, ok := byID[p.ChapterID]
		if !ok {
			return nil, fmt.Errorf("paragraph %s references unknown chapter %s", p.ID, p.ChapterID)
		}
		ch.Paragraphs = append(ch.Paragraphs, p)
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paragraphs: %w", err)
	}
	return chapters, nil
}

const paragraphColumns = `p.id, p.chapter_id, p.topic_id, p.idx, p.summary, p.content, p.metadata, p.generated_at`

func scanParagraph(row interface{ Scan(...any) error }) (*domain.Paragraph, error) {
	var p domain.Paragraph
	var content sql.NullString
	var generatedAt sql.NullTime
	var metadata []byte
	err := row.Scan(&p.ID, &p.ChapterID, &p.TopicID, &p.Index, &p.Summary, &content, &metadata, &generatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode paragraph metadata: %w", err)
		}
	}
	if content.Valid && generatedAt.Valid {
		p.Body = &domain.ParagraphBody{Content: content.String, GeneratedAt: generatedAt.Time}
	}
	return &p, nil
}

// SaveOutline writes a new outline tree. Returns domain.ErrAlreadyExists
// if the topic already has one.
func (s *OutlineStore) SaveOutline(ctx context.Context, outline *domain.Outline) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		return insertOutline(ctx, tx, outline)
	})
}

// ReplaceOutline swaps a topic's outline for a new one. Reading records
// of the old outline go with it.
func (s *OutlineStore) ReplaceOutline(ctx context.Context, outline *domain.Outline) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := deleteOutline(ctx, tx, outline.TopicID); err != nil {
			return err
		}
		return insertOutline(ctx, tx, outline)
	})
}

// DeleteOutline removes a topic's outline tree and reading records
func (s *OutlineStore) DeleteOutline(ctx context.Context, topicID string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		return deleteOutline(ctx, tx, topicID)
	})
}

func deleteOutline(ctx context.Context, tx *sql.Tx, topicID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM reading_records WHERE topic_id = $1`, topicID); err != nil {
		return fmt.Errorf("delete reading records: %w", err)
	}
	// chapters and paragraphs cascade
	if _, err := tx.ExecContext(ctx, `DELETE FROM outlines WHERE topic_id = $1`, topicID); err != nil {
		return fmt.Errorf("delete outline: %w", err)
	}
	return nil
}

func insertOutline(ctx context.Context, tx *sql.Tx, o *domain.Outline) error {
	options, err := json.Marshal(o.Options)
	if err != nil {
		return fmt.Errorf("encode generation options: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO outlines (
			topic_id, title, description, difficulty, estimated_minutes,
			total_chapters, total_paragraphs, generation_options, model_tag, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (topic_id) DO NOTHING
	`,
		o.TopicID,
		o.Title,
		o.Description,
		string(o.Difficulty),
		o.EstimatedMinutes,
		o.TotalChapters,
		o.TotalParagraphs,
		options,
		o.ModelTag,
		o.CreatedAt,
	)
	if isForeignKeyViolation(err) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert outline: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrAlreadyExists
	}

	chapterStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chapters (id, topic_id, idx, title, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("prepare chapter insert: %w", err)
	}
	defer chapterStmt.Close()

	paragraphStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO paragraphs (id, chapter_id, topic_id, idx, summary, content, metadata, generated, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("prepare paragraph insert: %w", err)
	}
	defer paragraphStmt.Close()

	for _, ch := range o.Chapters {
		metadata, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("encode chapter metadata: %w", err)
		}
		_, err = chapterStmt.ExecContext(ctx, ch.ID, o.TopicID, ch.Index, ch.Title, ch.Description, metadata)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: chapter %d", domain.ErrAlreadyExists, ch.Index)
		}
		if err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.Index, err)
		}

		for _, p := range ch.Paragraphs {
			pmeta, err := encodeMetadata(p.Metadata)
			if err != nil {
				return err
			}
			var content sql.NullString
			var generatedAt sql.NullTime
			if p.Body != nil {
				content = sql.NullString{String: p.Body.Content, Valid: true}
				generatedAt = sql.NullTime{Time: p.Body.GeneratedAt, Valid: true}
			}
			_, err = paragraphStmt.ExecContext(ctx,
				p.ID, ch.ID, o.TopicID, p.Index, p.Summary,
				content, pmeta, p.Body != nil, generatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert paragraph %d.%d: %w", ch.Index, p.Index, err)
			}
		}
	}
	return nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode paragraph metadata: %w", err)
	}
	return data, nil
}

// GetParagraph retrieves a single paragraph
func (s *OutlineStore) GetParagraph(ctx context.Context, paragraphID string) (*domain.Paragraph, error) {
	p, err := scanParagraph(s.db.QueryRowContext(ctx, `
		SELECT `+paragraphColumns+` FROM paragraphs p WHERE p.id = $1
	`, paragraphID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get paragraph: %w", err)
	}
	return p, nil
}

// CompleteParagraph fills a stub. The update only matches a stub, so two
// writers racing on the same paragraph cannot both succeed.
func (s *OutlineStore) CompleteParagraph(ctx context.Context, paragraph *domain.Paragraph) error {
	if paragraph.Body == nil {
		return fmt.Errorf("%w: paragraph has no content", domain.ErrInvalidInput)
	}
	metadata, err := encodeMetadata(paragraph.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE paragraphs
		SET content = $2, summary = $3, metadata = $4, generated = TRUE, generated_at = $5
		WHERE id = $1 AND NOT generated
	`,
		paragraph.ID,
		paragraph.Body.Content,
		paragraph.Summary,
		metadata,
		paragraph.Body.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("update paragraph: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM paragraphs WHERE id = $1)`, paragraph.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check paragraph: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyExists
}
