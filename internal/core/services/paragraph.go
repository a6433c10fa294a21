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

// Ensure paragraphService implements ParagraphService
var _ driving.ParagraphService = (*paragraphService)(nil)

// paragraphService generates one paragraph body per call.
// A failed or cancelled generation leaves the stub untouched.
type paragraphService struct {
	topics    driven.TopicStore
	outlines  driven.OutlineStore
	generator driven.ContentGenerator
	cache     *ContentCache
	events    driven.EventPublisher
	guard     *generationGuard
	timeout   time.Duration
	logger    *slog.Logger
}

// ParagraphServiceConfig holds dependencies for the ParagraphService
type ParagraphServiceConfig struct {
	Topics    driven.TopicStore
	Outlines  driven.OutlineStore
	Generator driven.ContentGenerator
	Cache     *ContentCache
	Lock      driven.DistributedLock // Optional: excludes other instances
	Events    driven.EventPublisher  // Optional
	Timeout   time.Duration          // Bound on one generator call (default: 45s)
	LeaseTTL  time.Duration          // Generation lease (default: Timeout + 30s)
	Logger    *slog.Logger
}

// NewParagraphService creates a new ParagraphService
func NewParagraphService(cfg ParagraphServiceConfig) driving.ParagraphService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	leaseTTL := cfg.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = timeout + 30*time.Second
	}
	return &paragraphService{
		topics:    cfg.Topics,
		outlines:  cfg.Outlines,
		generator: cfg.Generator,
		cache:     cfg.Cache,
		events:    cfg.Events,
		guard:     newGenerationGuard(cfg.Lock, leaseTTL, logger),
		timeout:   timeout,
		logger:    logger,
	}
}

func (s *paragraphService) Generate(ctx context.Context, req driving.GenerateParagraphRequest) (*domain.Paragraph, error) {
	opts := req.Options.WithDefaults()
	if _, err := domain.ParseDifficulty(string(opts.Difficulty)); err != nil {
		return nil, err
	}
	if req.ParagraphID == "" {
		return nil, fmt.Errorf("%w: paragraph id required", domain.ErrInvalidInput)
	}
	topic, err := ownedTopic(ctx, s.topics, req.OwnerID, req.TopicID)
	if err != nil {
		return nil, err
	}

	p, err := s.outlines.GetParagraph(ctx, req.ParagraphID)
	if err != nil {
		return nil, err
	}
	if p.TopicID != topic.ID {
		return nil, domain.ErrNotFound
	}
	if p.IsGenerated() {
		return p, nil
	}

	call := guardCall{Unit: "paragraph:" + p.ID, Progress: req.Progress}
	v, err := s.guard.Do(ctx, call, func(ctx context.Context, progress domain.ProgressFunc) (any, error) {
		return s.fill(ctx, topic, p.ID, opts, progress)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Paragraph), nil
}

// fill runs under the generation guard
func (s *paragraphService) fill(ctx context.Context, topic *domain.Topic, paragraphID string, opts domain.ParagraphOptions, progress domain.ProgressFunc) (_ *domain.Paragraph, err error) {
	ctx, span := tracer.Start(ctx, "paragraph.generate", trace.WithAttributes(
		attribute.String("topic_id", topic.ID),
		attribute.String("paragraph_id", paragraphID),
	))
	defer func() { endSpan(span, err) }()

	outline, err := s.outlines.GetOutline(ctx, topic.ID)
	if err != nil {
		return nil, fmt.Errorf("get outline: %w", err)
	}
	ch, p := outline.Paragraph(paragraphID)
	if p == nil {
		return nil, domain.ErrStaleReference
	}
	if p.IsGenerated() {
		return p, nil
	}

	inputs := domain.ParagraphFingerprintInputs(topic.Title, ch.Title, p.Summary, opts)
	generated := s.cached(ctx, inputs)
	fromCache := generated != nil
	span.SetAttributes(attribute.Bool("cache_hit", fromCache))

	var elapsed time.Duration
	if generated == nil {
		start := time.Now()
		prompt := paragraphPrompt(paragraphPromptInput{
			topicTitle: topic.Title,
			chapter:    ch,
			paragraph:  p,
			previous:   previousParagraph(ch, p),
			options:    opts,
		})
		if progress != nil {
			prompt.OnChunk = func(chunk string) {
				progress(domain.GenerationProgress{
					Stage:        domain.StageParagraphChunk,
					ChapterIndex: ch.Index,
					ChapterTitle: ch.Title,
					Chunk:        chunk,
				})
			}
		}
		generated, err = s.generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		elapsed = time.Since(start)
	}

	if generated.Metadata == nil {
		generated.Metadata = map[string]string{}
	}
	generated.Metadata["model"] = s.generator.Model()
	p.Complete(generated, time.Now().UTC())

	err = s.outlines.CompleteParagraph(ctx, p)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		return s.outlines.GetParagraph(ctx, p.ID)
	case errors.Is(err, domain.ErrNotFound):
		// the outline was regenerated underneath us
		return nil, domain.ErrStaleReference
	case err != nil:
		return nil, fmt.Errorf("save paragraph: %w", err)
	}

	if !fromCache {
		s.cache.PutCached(ctx, topic.ID, domain.ContentTypeParagraph, generated, inputs, elapsed)
	}
	s.cache.Forget(ctx, topic.ID)

	event := domain.NewEvent(domain.EventParagraphGenerated, topic.OwnerID, topic.ID)
	event.ChapterID = ch.ID
	event.ParagraphID = p.ID
	publish(ctx, s.events, s.logger, event)

	s.logger.Info("paragraph generated",
		"topic_id", topic.ID,
		"paragraph_id", p.ID,
		"cache_hit", fromCache,
		"duration", elapsed,
	)
	return p, nil
}

func (s *paragraphService) cached(ctx context.Context, inputs domain.FingerprintInputs) *domain.GeneratedParagraph {
	entry, err := s.cache.Lookup(ctx, domain.ContentTypeParagraph, inputs)
	if err != nil {
		return nil
	}
	g, err := decodeArtifact[domain.GeneratedParagraph](entry)
	if err != nil || g.Validate() != nil {
		return nil
	}
	return g
}

func (s *paragraphService) generate(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	g, err := s.generator.GenerateParagraph(ctx, prompt)
	if err != nil {
		return nil, generationError("paragraph", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func previousParagraph(ch *domain.Chapter, p *domain.Paragraph) *domain.Paragraph {
	if p.Index < 2 || p.Index-2 >= len(ch.Paragraphs) {
		return nil
	}
	return ch.Paragraphs[p.Index-2]
}
