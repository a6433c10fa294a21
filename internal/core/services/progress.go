package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

// Ensure progressService implements ProgressService
var _ driving.ProgressService = (*progressService)(nil)

// progressService records reads against generated paragraphs.
//
// Chapter completion is never stored. The store returns the chapter's
// read count before and after each write and the completion event is
// published on the incomplete to complete edge only.
type progressService struct {
	topics     driven.TopicStore
	outlines   driven.OutlineStore
	progress   driven.ProgressStore
	sessions   driven.ReadingSessionStore
	events     driven.EventPublisher
	queue      driven.TaskQueue
	prefetch   bool
	maxSession time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// ProgressServiceConfig holds dependencies for the ProgressService
type ProgressServiceConfig struct {
	Topics   driven.TopicStore
	Outlines driven.OutlineStore
	Progress driven.ProgressStore
	Sessions driven.ReadingSessionStore
	Events   driven.EventPublisher // Optional
	Queue    driven.TaskQueue      // Optional: used for prefetch

	// PrefetchNext queues generation of the next stub after a read
	PrefetchNext bool

	// MaxSession caps the reading time credited by one session (default: 30m)
	MaxSession time.Duration

	Logger *slog.Logger
}

// NewProgressService creates a new ProgressService
func NewProgressService(cfg ProgressServiceConfig) driving.ProgressService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxSession := cfg.MaxSession
	if maxSession <= 0 {
		maxSession = 30 * time.Minute
	}
	return &progressService{
		topics:     cfg.Topics,
		outlines:   cfg.Outlines,
		progress:   cfg.Progress,
		sessions:   cfg.Sessions,
		events:     cfg.Events,
		queue:      cfg.Queue,
		prefetch:   cfg.PrefetchNext && cfg.Queue != nil,
		maxSession: maxSession,
		logger:     logger,
		now:        time.Now,
	}
}

// locate resolves a paragraph reference against the stored outline.
// A paragraph that is gone, or in another chapter than the caller
// thinks, is a stale reference.
func (s *progressService) locate(ctx context.Context, ref driving.ParagraphRef) (*domain.Outline, *domain.Chapter, *domain.Paragraph, error) {
	if ref.ParagraphID == "" {
		return nil, nil, nil, fmt.Errorf("%w: paragraph id required", domain.ErrInvalidInput)
	}
	if _, err := ownedTopic(ctx, s.topics, ref.OwnerID, ref.TopicID); err != nil {
		return nil, nil, nil, err
	}

	outline, err := s.outlines.GetOutline(ctx, ref.TopicID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, nil, domain.ErrStaleReference
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("get outline: %w", err)
	}
	ch, p := outline.Paragraph(ref.ParagraphID)
	if p == nil || (ref.ChapterID != "" && ch.ID != ref.ChapterID) {
		return nil, nil, nil, domain.ErrStaleReference
	}
	return outline, ch, p, nil
}

func (s *progressService) MarkRead(ctx context.Context, req driving.MarkReadRequest) (*driving.MarkReadResult, error) {
	outline, ch, p, err := s.locate(ctx, req.ParagraphRef)
	if err != nil {
		return nil, err
	}
	if !p.IsGenerated() {
		return nil, domain.ErrNotGenerated
	}

	// An empty content means the reader saw what is stored
	fingerprint := domain.ContentFingerprint(p.Content())
	if req.Content != "" && domain.ContentFingerprint(req.Content) != fingerprint {
		return nil, domain.ErrStaleReference
	}

	now := s.now().UTC()
	record := &domain.ReadingRecord{
		OwnerID:            req.OwnerID,
		TopicID:            req.TopicID,
		ChapterID:          ch.ID,
		ParagraphID:        p.ID,
		ContentFingerprint: fingerprint,
		IsRead:             true,
		ReadAt:             &now,
	}
	tally, err := s.progress.MarkRead(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	completed := tally.BecameComplete()
	if completed {
		s.logger.Info("chapter completed",
			"owner_id", req.OwnerID,
			"topic_id", req.TopicID,
			"chapter_id", ch.ID,
		)
		publish(ctx, s.events, s.logger, domain.NewChapterCompletedEvent(req.OwnerID, req.TopicID, tally))
	}

	if s.prefetch {
		s.prefetchAfter(ctx, req.OwnerID, outline, p.ID)
	}

	return &driving.MarkReadResult{Record: record, Chapter: tally, ChapterCompleted: completed}, nil
}

func (s *progressService) MarkUnread(ctx context.Context, ref driving.ParagraphRef) (*driving.MarkReadResult, error) {
	_, ch, p, err := s.locate(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !p.IsGenerated() {
		return nil, domain.ErrNotGenerated
	}

	record := &domain.ReadingRecord{
		OwnerID:            ref.OwnerID,
		TopicID:            ref.TopicID,
		ChapterID:          ch.ID,
		ParagraphID:        p.ID,
		ContentFingerprint: domain.ContentFingerprint(p.Content()),
	}
	tally, err := s.progress.MarkUnread(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("mark unread: %w", err)
	}
	return &driving.MarkReadResult{Record: record, Chapter: tally}, nil
}

// prefetchAfter queues the next stub in reading order. Best effort.
func (s *progressService) prefetchAfter(ctx context.Context, ownerID string, outline *domain.Outline, paragraphID string) {
	_, next := outline.NextParagraph(paragraphID)
	if next == nil || next.IsGenerated() {
		return
	}
	opts := domain.ParagraphOptions{Difficulty: outline.Difficulty}
	task := domain.NewPrefetchParagraphTask(ownerID, outline.TopicID, next.ID, opts)
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		s.logger.Warn("failed to queue paragraph prefetch",
			"topic_id", outline.TopicID,
			"paragraph_id", next.ID,
			"error", err,
		)
	}
}

// StartReading makes ref the owner's only active session. The session it
// replaces is closed and its time credited.
func (s *progressService) StartReading(ctx context.Context, ref driving.ParagraphRef) (*domain.ReadingTime, error) {
	_, ch, p, err := s.locate(ctx, ref)
	if err != nil {
		return nil, err
	}

	session := &domain.ReadingSession{
		OwnerID:     ref.OwnerID,
		TopicID:     ref.TopicID,
		ChapterID:   ch.ID,
		ParagraphID: p.ID,
		StartedAt:   s.now().UTC(),
	}
	prev, err := s.sessions.Swap(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("start reading session: %w", err)
	}
	if prev == nil {
		return nil, nil
	}

	closed, err := s.close(ctx, prev)
	if err != nil {
		s.logger.Warn("failed to record reading time",
			"owner_id", ref.OwnerID,
			"paragraph_id", prev.ParagraphID,
			"error", err,
		)
	}
	return closed, nil
}

func (s *progressService) StopReading(ctx context.Context, ownerID string) (*domain.ReadingTime, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	prev, err := s.sessions.Take(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("stop reading session: %w", err)
	}
	if prev == nil {
		return nil, nil
	}
	return s.close(ctx, prev)
}

// close credits a finished session to its paragraph. Time is only kept
// for paragraphs that still exist and are generated.
func (s *progressService) close(ctx context.Context, session *domain.ReadingSession) (*domain.ReadingTime, error) {
	elapsed := session.Elapsed(s.now())
	if elapsed > s.maxSession {
		elapsed = s.maxSession
	}
	result := &domain.ReadingTime{Session: session, Duration: elapsed}

	p, err := s.outlines.GetParagraph(ctx, session.ParagraphID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !p.IsGenerated()) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("get paragraph: %w", err)
	}
	if elapsed <= 0 {
		return result, nil
	}

	err = s.progress.AddReadingTime(ctx, &domain.ReadingRecord{
		OwnerID:            session.OwnerID,
		TopicID:            session.TopicID,
		ChapterID:          session.ChapterID,
		ParagraphID:        session.ParagraphID,
		ContentFingerprint: domain.ContentFingerprint(p.Content()),
		ReadingMs:          elapsed.Milliseconds(),
	})
	if errors.Is(err, domain.ErrStaleReference) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("add reading time: %w", err)
	}
	result.Recorded = true
	return result, nil
}

func (s *progressService) ChapterProgress(ctx context.Context, ownerID, topicID string) ([]domain.ChapterProgress, error) {
	if _, err := ownedTopic(ctx, s.topics, ownerID, topicID); err != nil {
		return nil, err
	}
	outline, err := s.outlines.GetOutline(ctx, topicID)
	if err != nil {
		return nil, err
	}
	records, err := s.progress.ListRecords(ctx, ownerID, topicID)
	if err != nil {
		return nil, fmt.Errorf("list reading records: %w", err)
	}
	return domain.DeriveChapterProgress(outline, records), nil
}

func (s *progressService) PurgeOrphans(ctx context.Context) (int64, error) {
	n, err := s.progress.DeleteOrphans(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned records: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged orphaned reading records", "count", n)
	}
	return n, nil
}
