package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ReadingRecord is the fact that an owner has (or has not) read a paragraph.
// One per (owner, topic, paragraph).
type ReadingRecord struct {
	OwnerID            string     `json:"owner_id"`
	TopicID            string     `json:"topic_id"`
	ChapterID          string     `json:"chapter_id"`
	ParagraphID        string     `json:"paragraph_id"`
	ContentFingerprint string     `json:"content_fingerprint"`
	IsRead             bool       `json:"is_read"`
	ReadAt             *time.Time `json:"read_at,omitempty"`
	ReadingMs          int64      `json:"reading_ms"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ContentFingerprint hashes a paragraph body at the time it was read
func ContentFingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// MatchesContent reports whether the record was taken against the
// paragraph's current body.
func (r *ReadingRecord) MatchesContent(p *Paragraph) bool {
	return p.IsGenerated() && r.ContentFingerprint == ContentFingerprint(p.Content())
}

// ChapterTally is the before/after read count of a chapter around a
// single progress write. Completion is derived from it, never stored.
type ChapterTally struct {
	ChapterID   string     `json:"chapter_id"`
	Total       int        `json:"total"`
	ReadBefore  int        `json:"read_before"`
	ReadAfter   int        `json:"read_after"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Complete reports whether every paragraph is read after the write
func (t ChapterTally) Complete() bool {
	return t.Total > 0 && t.ReadAfter >= t.Total
}

// BecameComplete reports the incomplete to complete edge
func (t ChapterTally) BecameComplete() bool {
	return t.Complete() && t.ReadBefore < t.Total
}

// ChapterProgress is the derived read state of one chapter
type ChapterProgress struct {
	ChapterID   string     `json:"chapter_id"`
	Index       int        `json:"index"`
	Title       string     `json:"title"`
	Read        int        `json:"read"`
	Total       int        `json:"total"`
	Complete    bool       `json:"complete"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReadIndex maps paragraph id to its read record, dropping unread records
func ReadIndex(records []*ReadingRecord) map[string]*ReadingRecord {
	idx := make(map[string]*ReadingRecord, len(records))
	for _, r := range records {
		if r.IsRead {
			idx[r.ParagraphID] = r
		}
	}
	return idx
}

// DeriveChapterProgress computes per-chapter completion from reading records.
// Records for paragraphs that no longer exist are ignored.
func DeriveChapterProgress(o *Outline, records []*ReadingRecord) []ChapterProgress {
	read := ReadIndex(records)
	out := make([]ChapterProgress, 0, len(o.Chapters))
	for _, ch := range o.Chapters {
		cp := ChapterProgress{
			ChapterID: ch.ID,
			Index:     ch.Index,
			Title:     ch.Title,
			Total:     len(ch.Paragraphs),
		}
		var last time.Time
		for _, p := range ch.Paragraphs {
			r, ok := read[p.ID]
			if !ok {
				continue
			}
			cp.Read++
			if r.ReadAt != nil && r.ReadAt.After(last) {
				last = *r.ReadAt
			}
		}
		cp.Complete = cp.Total > 0 && cp.Read == cp.Total
		if cp.Complete && !last.IsZero() {
			at := last
			cp.CompletedAt = &at
		}
		out = append(out, cp)
	}
	return out
}

// ReadingSession tracks the single paragraph an owner is currently reading
type ReadingSession struct {
	OwnerID     string    `json:"owner_id"`
	TopicID     string    `json:"topic_id"`
	ChapterID   string    `json:"chapter_id"`
	ParagraphID string    `json:"paragraph_id"`
	StartedAt   time.Time `json:"started_at"`
}

// Elapsed returns the time spent reading up to now
func (s *ReadingSession) Elapsed(now time.Time) time.Duration {
	if now.Before(s.StartedAt) {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// ReadingTime is the outcome of closing a reading session
type ReadingTime struct {
	Session  *ReadingSession `json:"session"`
	Duration time.Duration   `json:"duration"`
	Recorded bool            `json:"recorded"`
}
