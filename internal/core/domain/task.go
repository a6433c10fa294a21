package domain

import (
	"strconv"
	"time"
)

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeGenerateOutline builds a topic outline off the request path
	TaskTypeGenerateOutline TaskType = "outline.generate"
	// TaskTypePrefetchParagraph generates the paragraph after the one just read
	TaskTypePrefetchParagraph TaskType = "paragraph.prefetch"
	// TaskTypePurgeOrphans deletes reading records whose paragraph is gone
	TaskTypePurgeOrphans TaskType = "orphans.purge"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Payload keys
const (
	PayloadTopicID         = "topic_id"
	PayloadParagraphID     = "paragraph_id"
	PayloadDifficulty      = "difficulty"
	PayloadMaxChapters     = "max_chapters"
	PayloadContext         = "context"
	PayloadExtra           = "extra_description"
	PayloadMaxWords        = "max_words"
	PayloadIncludeExamples = "include_examples"
)

// Task is a background job processed by workers
type Task struct {
	ID          string            `json:"id"`
	Type        TaskType          `json:"type"`
	OwnerID     string            `json:"owner_id"`
	Payload     map[string]string `json:"payload"`
	Status      TaskStatus        `json:"status"`
	Priority    int               `json:"priority"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`

	// ScheduledFor delays processing until the given time
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, ownerID string, payload map[string]string) *Task {
	now := time.Now()
	if payload == nil {
		payload = map[string]string{}
	}
	return &Task{
		ID:           NewEntityID(),
		Type:         taskType,
		OwnerID:      ownerID,
		Payload:      payload,
		Status:       TaskStatusPending,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// NewGenerateOutlineTask queues an outline build for a topic
func NewGenerateOutlineTask(ownerID, topicID string, opts OutlineOptions) *Task {
	return NewTask(TaskTypeGenerateOutline, ownerID, map[string]string{
		PayloadTopicID:     topicID,
		PayloadDifficulty:  string(opts.Difficulty),
		PayloadMaxChapters: strconv.Itoa(opts.MaxChapters),
		PayloadContext:     opts.Context,
		PayloadExtra:       opts.ExtraDescription,
	})
}

// NewPrefetchParagraphTask queues generation of a single stub.
// Prefetch runs below interactive work.
func NewPrefetchParagraphTask(ownerID, topicID, paragraphID string, opts ParagraphOptions) *Task {
	t := NewTask(TaskTypePrefetchParagraph, ownerID, map[string]string{
		PayloadTopicID:         topicID,
		PayloadParagraphID:     paragraphID,
		PayloadDifficulty:      string(opts.Difficulty),
		PayloadMaxWords:        strconv.Itoa(opts.MaxWords),
		PayloadIncludeExamples: strconv.FormatBool(opts.IncludeExamples),
	})
	t.Priority = -10
	t.MaxAttempts = 1
	return t
}

// TopicID extracts the topic id from the payload
func (t *Task) TopicID() string {
	return t.Payload[PayloadTopicID]
}

// ParagraphID extracts the paragraph id from the payload
func (t *Task) ParagraphID() string {
	return t.Payload[PayloadParagraphID]
}

// OutlineOptions decodes outline options from the payload
func (t *Task) OutlineOptions() OutlineOptions {
	n, _ := strconv.Atoi(t.Payload[PayloadMaxChapters])
	return OutlineOptions{
		Difficulty:       Difficulty(t.Payload[PayloadDifficulty]),
		MaxChapters:      n,
		Context:          t.Payload[PayloadContext],
		ExtraDescription: t.Payload[PayloadExtra],
	}.WithDefaults()
}

// ParagraphOptions decodes paragraph options from the payload
func (t *Task) ParagraphOptions() ParagraphOptions {
	n, _ := strconv.Atoi(t.Payload[PayloadMaxWords])
	examples, _ := strconv.ParseBool(t.Payload[PayloadIncludeExamples])
	return ParagraphOptions{
		Difficulty:      Difficulty(t.Payload[PayloadDifficulty]),
		MaxWords:        n,
		IncludeExamples: examples,
	}.WithDefaults()
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	t.Status = TaskStatusFailed
	t.UpdatedAt = time.Now()
	t.Error = err
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err
	t.ScheduledFor = now.Add(RetryBackoff(t.Attempts))
}

// RetryBackoff is 1s, 2s, 4s... capped at five minutes
func RetryBackoff(attempts int) time.Duration {
	if attempts > 8 {
		return 5 * time.Minute
	}
	backoff := time.Duration(1<<attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}

// ScheduledTask is a recurring task taken from configuration
type ScheduledTask struct {
	ID       string        `json:"id"`
	Type     TaskType      `json:"type"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	NextRun  time.Time     `json:"next_run"`
}

// NewScheduledTask creates a scheduled task due after one interval
func NewScheduledTask(id string, taskType TaskType, interval time.Duration) *ScheduledTask {
	return &ScheduledTask{
		ID:       id,
		Type:     taskType,
		Interval: interval,
		Enabled:  interval > 0,
		NextRun:  time.Now().Add(interval),
	}
}

// IsDue returns true if the scheduled task should be triggered
func (s *ScheduledTask) IsDue(now time.Time) bool {
	return s.Enabled && !now.Before(s.NextRun)
}

// UpdateNextRun records a run and moves NextRun forward
func (s *ScheduledTask) UpdateNextRun(now time.Time) {
	s.LastRun = &now
	s.NextRun = now.Add(s.Interval)
}
