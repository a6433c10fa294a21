package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

// Ensure outlineService implements OutlineService
var _ driving.OutlineService = (*outlineService)(nil)

// outlineService produces and persists topic outlines.
//
// An outline is built once per topic. Generation consults the durable
// cache by topic and then by fingerprint before calling the generator,
// and the result is written as a complete set of chapters and stubs.
type outlineService struct {
	topics    driven.TopicStore
	outlines  driven.OutlineStore
	generator driven.ContentGenerator
	cache     *ContentCache
	events    driven.EventPublisher
	queue     driven.TaskQueue
	guard     *generationGuard
	timeout   time.Duration
	chapters  int
	logger    *slog.Logger
}

// OutlineServiceConfig holds dependencies for the OutlineService
type OutlineServiceConfig struct {
	Topics    driven.TopicStore
	Outlines  driven.OutlineStore
	Generator driven.ContentGenerator
	Cache     *ContentCache
	Lock      driven.DistributedLock // Optional: excludes other instances
	Events    driven.EventPublisher  // Optional
	Queue     driven.TaskQueue       // Optional: required by EnqueueEnsure
	Timeout   time.Duration          // Bound on one generator call (default: 90s)
	LeaseTTL  time.Duration          // Generation lease (default: Timeout + 30s)
	Logger    *slog.Logger

	// MaxChapters applies when a request leaves it unset (default: 6)
	MaxChapters int
}

// NewOutlineService creates a new OutlineService
func NewOutlineService(cfg OutlineServiceConfig) driving.OutlineService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = timeout + 30*time.Second
	}
	return &outlineService{
		topics:    cfg.Topics,
		outlines:  cfg.Outlines,
		generator: cfg.Generator,
		cache:     cfg.Cache,
		events:    cfg.Events,
		queue:     cfg.Queue,
		guard:     newGenerationGuard(cfg.Lock, leaseTTL, logger),
		timeout:   timeout,
		chapters:  cfg.MaxChapters,
		logger:    logger,
	}
}

func (s *outlineService) GetExisting(ctx context.Context, ownerID, topicID string) (*domain.Outline, error) {
	if _, err := ownedTopic(ctx, s.topics, ownerID, topicID); err != nil {
		return nil, err
	}
	return s.cache.TopicTree(ctx, topicID)
}

func (s *outlineService) Ensure(ctx context.Context, req driving.GenerateOutlineRequest) (*domain.Outline, error) {
	topic, opts, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	existing, err := s.cache.TopicTree(ctx, topic.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get outline: %w", err)
	}

	call := guardCall{Unit: "outline:" + topic.ID, Progress: req.Progress}
	v, err := s.guard.Do(ctx, call, func(ctx context.Context, progress domain.ProgressFunc) (any, error) {
		return s.build(ctx, topic, opts, progress, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Outline), nil
}

func (s *outlineService) EnqueueEnsure(ctx context.Context, req driving.GenerateOutlineRequest) (*domain.Task, error) {
	if s.queue == nil {
		return nil, fmt.Errorf("%w: task queue not configured", domain.ErrServiceUnavailable)
	}
	topic, opts, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	task := domain.NewGenerateOutlineTask(req.OwnerID, topic.ID, opts)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue outline task: %w", err)
	}
	s.logger.Info("outline generation queued", "topic_id", topic.ID, "task_id", task.ID)
	return task, nil
}

// Regenerate destroys every generated paragraph and reading record of the
// topic. It never serves a cached artifact.
func (s *outlineService) Regenerate(ctx context.Context, req driving.GenerateOutlineRequest, confirm bool) (*domain.Outline, error) {
	if !confirm {
		return nil, domain.ErrConfirmationRequired
	}
	topic, opts, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	// Only identical regenerations share a call. Anything else for the
	// topic, an in-flight Ensure included, finishes before this one runs.
	fingerprint := domain.OutlineFingerprintInputs(topic.Title, opts).Fingerprint()
	call := guardCall{
		Unit:     "outline:" + topic.ID,
		Flight:   fmt.Sprintf("outline-regenerate:%s:%d:%s", topic.ID, opts.MaxChapters, fingerprint),
		Progress: req.Progress,
	}
	v, err := s.guard.Do(ctx, call, func(ctx context.Context, progress domain.ProgressFunc) (any, error) {
		return s.build(ctx, topic, opts, progress, true)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Outline), nil
}

func (s *outlineService) prepare(ctx context.Context, req driving.GenerateOutlineRequest) (*domain.Topic, domain.OutlineOptions, error) {
	opts := req.Options
	if opts.MaxChapters <= 0 && s.chapters > 0 {
		opts.MaxChapters = s.chapters
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, opts, err
	}
	topic, err := ownedTopic(ctx, s.topics, req.OwnerID, req.TopicID)
	if err != nil {
		return nil, opts, err
	}
	return topic, opts, nil
}

// build runs under the generation guard
func (s *outlineService) build(ctx context.Context, topic *domain.Topic, opts domain.OutlineOptions, progress domain.ProgressFunc, replace bool) (_ *domain.Outline, err error) {
	ctx, span := tracer.Start(ctx, "outline.generate", trace.WithAttributes(
		attribute.String("topic_id", topic.ID),
		attribute.Int("max_chapters", opts.MaxChapters),
		attribute.Bool("replace", replace),
	))
	defer func() { endSpan(span, err) }()

	if !replace {
		// another instance may have finished while we waited for the lease
		existing, err := s.outlines.GetOutline(ctx, topic.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("get outline: %w", err)
		}
	}

	inputs := domain.OutlineFingerprintInputs(topic.Title, opts)
	var generated *domain.GeneratedOutline
	if !replace {
		generated = s.cached(ctx, topic.ID, inputs, opts.MaxChapters)
	}
	fromCache := generated != nil
	span.SetAttributes(attribute.Bool("cache_hit", fromCache))

	var elapsed time.Duration
	if generated == nil {
		start := time.Now()
		generated, err = s.generate(ctx, topic.Title, opts)
		if err != nil {
			return nil, err
		}
		elapsed = time.Since(start)
	}

	outline := domain.BuildOutline(topic.ID, generated, opts, s.generator.Model())
	if replace {
		err = s.outlines.ReplaceOutline(ctx, outline)
	} else {
		err = s.outlines.SaveOutline(ctx, outline)
	}
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.outlines.GetOutline(ctx, topic.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("save outline: %w", err)
	}

	if !fromCache {
		s.cache.PutCached(ctx, topic.ID, domain.ContentTypeOutline, generated, inputs, elapsed)
	}
	s.cache.Forget(ctx, topic.ID)
	s.cache.Remember(ctx, outline)

	if progress != nil {
		for _, ch := range outline.Chapters {
			progress(domain.GenerationProgress{
				Stage:        domain.StageOutlineChapter,
				ChapterIndex: ch.Index,
				ChapterTitle: ch.Title,
			})
		}
	}

	event := domain.NewEvent(domain.EventOutlineGenerated, topic.OwnerID, topic.ID)
	event.Data = map[string]string{
		"chapters":   fmt.Sprint(outline.TotalChapters),
		"paragraphs": fmt.Sprint(outline.TotalParagraphs),
	}
	publish(ctx, s.events, s.logger, event)

	s.logger.Info("outline ready",
		"topic_id", topic.ID,
		"chapters", outline.TotalChapters,
		"paragraphs", outline.TotalParagraphs,
		"cache_hit", fromCache,
		"replaced", replace,
		"duration", elapsed,
	)
	return outline, nil
}

// cached returns a reusable outline artifact, preferring the topic's own
func (s *outlineService) cached(ctx context.Context, topicID string, inputs domain.FingerprintInputs, maxChapters int) *domain.GeneratedOutline {
	entry, err := s.cache.GetCached(ctx, topicID, domain.ContentTypeOutline, inputs)
	if err != nil {
		entry, err = s.cache.Lookup(ctx, domain.ContentTypeOutline, inputs)
	}
	if err != nil {
		return nil
	}

	g, err := decodeArtifact[domain.GeneratedOutline](entry)
	if err != nil {
		s.logger.Warn("discarding unreadable cache entry", "topic_id", topicID, "error", err)
		return nil
	}
	// an artifact generated with a larger chapter budget is a miss
	if err := g.Validate(maxChapters); err != nil {
		return nil
	}
	return g
}

func (s *outlineService) generate(ctx context.Context, title string, opts domain.OutlineOptions) (*domain.GeneratedOutline, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	g, err := s.generator.GenerateOutline(ctx, outlinePrompt(title, opts))
	if err != nil {
		return nil, generationError("outline", err)
	}
	if err := g.Validate(opts.MaxChapters); err != nil {
		s.logger.Warn("generated outline rejected", "title", title, "error", err)
		return nil, err
	}
	return g, nil
}
