package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires every service to the in-memory mocks
type fixture struct {
	topics     *mocks.MockTopicStore
	outlines   *mocks.MockOutlineStore
	progress   *mocks.MockProgressStore
	cacheStore *mocks.MockCacheStore
	snapshot   *mocks.MockSnapshotCache
	sessions   *mocks.MockReadingSessionStore
	generator  *mocks.MockContentGenerator
	lock       *mocks.MockDistributedLock
	events     *mocks.MockEventPublisher
	queue      *mocks.MockTaskQueue

	cache        *ContentCache
	topicSvc     driving.TopicService
	outlineSvc   driving.OutlineService
	paragraphSvc driving.ParagraphService
	progressSvc  driving.ProgressService
	resumption   driving.ResumptionService
}

type fixtureOption func(f *fixture, outline *OutlineServiceConfig, paragraph *ParagraphServiceConfig, progress *ProgressServiceConfig)

func withTimeout(d time.Duration) fixtureOption {
	return func(f *fixture, o *OutlineServiceConfig, p *ParagraphServiceConfig, _ *ProgressServiceConfig) {
		o.Timeout = d
		p.Timeout = d
	}
}

func withMaxChapters(n int) fixtureOption {
	return func(f *fixture, o *OutlineServiceConfig, _ *ParagraphServiceConfig, _ *ProgressServiceConfig) {
		o.MaxChapters = n
	}
}

func withPrefetch() fixtureOption {
	return func(f *fixture, _ *OutlineServiceConfig, _ *ParagraphServiceConfig, pr *ProgressServiceConfig) {
		pr.PrefetchNext = true
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := discardLogger()

	f := &fixture{
		topics:     mocks.NewMockTopicStore(),
		outlines:   mocks.NewMockOutlineStore(),
		cacheStore: mocks.NewMockCacheStore(),
		snapshot:   mocks.NewMockSnapshotCache(),
		sessions:   mocks.NewMockReadingSessionStore(),
		generator:  mocks.NewMockContentGenerator(),
		lock:       mocks.NewMockDistributedLock(),
		events:     mocks.NewMockEventPublisher(),
		queue:      mocks.NewMockTaskQueue(),
	}
	f.progress = mocks.NewMockProgressStore(f.outlines)
	f.cache = NewContentCache(ContentCacheConfig{
		Store:    f.cacheStore,
		Snapshot: f.snapshot,
		Topics:   f.topics,
		Outlines: f.outlines,
		Logger:   logger,
	})

	outlineCfg := OutlineServiceConfig{
		Topics:    f.topics,
		Outlines:  f.outlines,
		Generator: f.generator,
		Cache:     f.cache,
		Lock:      f.lock,
		Events:    f.events,
		Queue:     f.queue,
		Logger:    logger,
	}
	paragraphCfg := ParagraphServiceConfig{
		Topics:    f.topics,
		Outlines:  f.outlines,
		Generator: f.generator,
		Cache:     f.cache,
		Lock:      f.lock,
		Events:    f.events,
		Logger:    logger,
	}
	progressCfg := ProgressServiceConfig{
		Topics:   f.topics,
		Outlines: f.outlines,
		Progress: f.progress,
		Sessions: f.sessions,
		Events:   f.events,
		Queue:    f.queue,
		Logger:   logger,
	}
	for _, opt := range opts {
		opt(f, &outlineCfg, &paragraphCfg, &progressCfg)
	}

	f.topicSvc = NewTopicService(f.topics, f.outlines, f.cache, logger)
	f.outlineSvc = NewOutlineService(outlineCfg)
	f.paragraphSvc = NewParagraphService(paragraphCfg)
	f.progressSvc = NewProgressService(progressCfg)
	f.resumption = NewResumptionService(f.topics, f.outlines, f.progress)

	t.Cleanup(f.cache.Wait)
	return f
}

func (f *fixture) topic(t *testing.T, title, owner string) *domain.Topic {
	t.Helper()
	topic, _, err := f.topicSvc.GetOrCreate(context.Background(), driving.CreateTopicRequest{OwnerID: owner, Title: title})
	require.NoError(t, err)
	return topic
}

func (f *fixture) outline(t *testing.T, topic *domain.Topic, maxChapters int) *domain.Outline {
	t.Helper()
	o, err := f.outlineSvc.Ensure(context.Background(), driving.GenerateOutlineRequest{
		OwnerID: topic.OwnerID,
		TopicID: topic.ID,
		Options: domain.OutlineOptions{MaxChapters: maxChapters},
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) generate(t *testing.T, topic *domain.Topic, p *domain.Paragraph) *domain.Paragraph {
	t.Helper()
	got, err := f.paragraphSvc.Generate(context.Background(), driving.GenerateParagraphRequest{
		OwnerID:     topic.OwnerID,
		TopicID:     topic.ID,
		ParagraphID: p.ID,
	})
	require.NoError(t, err)
	return got
}

func (f *fixture) read(t *testing.T, topic *domain.Topic, ch *domain.Chapter, p *domain.Paragraph) *driving.MarkReadResult {
	t.Helper()
	res, err := f.progressSvc.MarkRead(context.Background(), driving.MarkReadRequest{
		ParagraphRef: driving.ParagraphRef{
			OwnerID:     topic.OwnerID,
			TopicID:     topic.ID,
			ChapterID:   ch.ID,
			ParagraphID: p.ID,
		},
		Content: p.Content(),
	})
	require.NoError(t, err)
	return res
}
