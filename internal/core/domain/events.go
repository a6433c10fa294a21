package domain

import "time"

// EventType identifies a progress event
type EventType string

const (
	EventChapterCompleted   EventType = "chapter.completed"
	EventOutlineGenerated   EventType = "outline.generated"
	EventParagraphGenerated EventType = "paragraph.generated"
)

// Event is published to an owner's event stream.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	OwnerID     string            `json:"owner_id"`
	TopicID     string            `json:"topic_id"`
	ChapterID   string            `json:"chapter_id,omitempty"`
	ParagraphID string            `json:"paragraph_id,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Data        map[string]string `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(t EventType, ownerID, topicID string) *Event {
	return &Event{
		ID:         NewEntityID(),
		Type:       t,
		OwnerID:    ownerID,
		TopicID:    topicID,
		OccurredAt: time.Now().UTC(),
	}
}

// NewChapterCompletedEvent builds the completion event of a chapter
func NewChapterCompletedEvent(ownerID, topicID string, tally ChapterTally) *Event {
	e := NewEvent(EventChapterCompleted, ownerID, topicID)
	e.ChapterID = tally.ChapterID
	if tally.CompletedAt != nil {
		e.OccurredAt = tally.CompletedAt.UTC()
	}
	return e
}

// GenerationProgress is pushed to a streaming caller while content is produced.
// Outline generation reports one chapter per update, paragraph
// generation one text chunk per update.
type GenerationProgress struct {
	Stage        string `json:"stage"`
	ChapterIndex int    `json:"chapter_index,omitempty"`
	ChapterTitle string `json:"chapter_title,omitempty"`
	Chunk        string `json:"chunk,omitempty"`
}

// Generation progress stages
const (
	StageOutlineChapter = "outline.chapter"
	StageParagraphChunk = "paragraph.chunk"
)

// ProgressFunc receives generation progress. It must not block for long.
type ProgressFunc func(GenerationProgress)
