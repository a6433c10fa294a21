package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

func paragraphRequest(topic *domain.Topic, p *domain.Paragraph) driving.GenerateParagraphRequest {
	return driving.GenerateParagraphRequest{
		OwnerID:     topic.OwnerID,
		TopicID:     topic.ID,
		ParagraphID: p.ID,
	}
}

func TestParagraphService_Generate(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	stub := o.Chapters[0].Paragraphs[0]

	p := f.generate(t, topic, stub)

	assert.True(t, p.IsGenerated())
	assert.NotEmpty(t, p.Content())
	assert.False(t, p.Body.GeneratedAt.IsZero())
	assert.Equal(t, "mock-model", p.Metadata["model"])

	stored, err := f.outlines.GetParagraph(context.Background(), stub.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Content(), stored.Content())
	assert.False(t, f.snapshot.Has(topic.ID), "topic tree is invalidated")
	assert.Len(t, f.events.Events(domain.EventParagraphGenerated), 1)

	prompt := f.generator.LastPrompt()
	assert.Contains(t, prompt.User, "Chapter 1: Chapter 1")
	assert.Contains(t, prompt.User, stub.Summary)
}

func TestParagraphService_Generate_AlreadyGenerated(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	first := f.generate(t, topic, o.Chapters[0].Paragraphs[0])

	again := f.generate(t, topic, o.Chapters[0].Paragraphs[0])

	assert.Equal(t, first.Content(), again.Content())
	assert.Equal(t, 1, f.generator.ParagraphCalls())
	assert.Equal(t, 1, f.outlines.CompleteCount())
}

func TestParagraphService_Generate_Concurrent(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	f.generator.Delay = 50 * time.Millisecond
	stub := o.Chapters[1].Paragraphs[2]

	var wg sync.WaitGroup
	contents := make([]string, 10)
	errs := make([]error, 10)
	for i := range contents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.paragraphSvc.Generate(context.Background(), paragraphRequest(topic, stub))
			errs[i] = err
			if err == nil {
				contents[i] = p.Content()
			}
		}(i)
	}
	wg.Wait()

	for i := range contents {
		require.NoError(t, errs[i])
		assert.Equal(t, contents[0], contents[i])
	}
	assert.Equal(t, 1, f.generator.ParagraphCalls())
	assert.Equal(t, 1, f.outlines.CompleteCount())
}

func TestParagraphService_Generate_FailureLeavesStub(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	stub := o.Chapters[0].Paragraphs[1]
	f.generator.ParagraphFn = func(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
		return nil, errors.New("rate limited")
	}

	_, err := f.paragraphSvc.Generate(context.Background(), paragraphRequest(topic, stub))
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)

	stored, err := f.outlines.GetParagraph(context.Background(), stub.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsGenerated())

	// the unit can be retried once the generator recovers
	f.generator.ParagraphFn = nil
	p := f.generate(t, topic, stub)
	assert.True(t, p.IsGenerated())
}

func TestParagraphService_Generate_EmptyBodyRejected(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	f.generator.ParagraphFn = func(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
		return &domain.GeneratedParagraph{Content: "   "}, nil
	}

	_, err := f.paragraphSvc.Generate(context.Background(), paragraphRequest(topic, o.Chapters[0].Paragraphs[0]))

	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Zero(t, f.outlines.CompleteCount())
}

func TestParagraphService_Generate_Cancelled(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	stub := o.Chapters[0].Paragraphs[0]
	f.generator.Delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.paragraphSvc.Generate(ctx, paragraphRequest(topic, stub))
	assert.ErrorIs(t, err, context.Canceled)

	// the detached call is cancelled once its only waiter left
	assert.Eventually(t, func() bool {
		return !f.lock.IsHeld("generate:paragraph:" + stub.ID)
	}, time.Second, 10*time.Millisecond)

	stored, err := f.outlines.GetParagraph(context.Background(), stub.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsGenerated())
}

func TestParagraphService_Generate_LeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	stub := o.Chapters[0].Paragraphs[0]
	f.lock.Hold("generate:paragraph:"+stub.ID, time.Minute)

	_, err := f.paragraphSvc.Generate(context.Background(), paragraphRequest(topic, stub))

	assert.ErrorIs(t, err, domain.ErrGenerationInProgress)
	assert.Zero(t, f.generator.ParagraphCalls())
}

func TestParagraphService_Generate_StreamsChunks(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)

	var chunks []string
	req := paragraphRequest(topic, o.Chapters[0].Paragraphs[0])
	req.Progress = func(p domain.GenerationProgress) {
		assert.Equal(t, domain.StageParagraphChunk, p.Stage)
		chunks = append(chunks, p.Chunk)
	}

	p, err := f.paragraphSvc.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, p.Content(), strings.Join(chunks, ""))
}

func TestParagraphService_Generate_ProgressGoesToRemainingCaller(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	stub := o.Chapters[0].Paragraphs[0]

	step := make(chan struct{})
	f.generator.ParagraphFn = func(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
		prompt.OnChunk("Channels ")
		select {
		case <-step:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		prompt.OnChunk("connect goroutines.")
		return &domain.GeneratedParagraph{Content: "Channels connect goroutines."}, nil
	}

	var mu sync.Mutex
	var first, second []string
	collect := func(into *[]string) domain.ProgressFunc {
		return func(p domain.GenerationProgress) {
			mu.Lock()
			defer mu.Unlock()
			*into = append(*into, p.Chunk)
		}
	}
	chunks := func(from *[]string) []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), *from...)
	}

	leaving, leave := context.WithCancel(context.Background())
	firstReq := paragraphRequest(topic, stub)
	firstReq.Progress = collect(&first)
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.paragraphSvc.Generate(leaving, firstReq)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return len(chunks(&first)) == 1 }, time.Second, 5*time.Millisecond)

	secondReq := paragraphRequest(topic, stub)
	secondReq.Progress = collect(&second)
	secondDone := make(chan *domain.Paragraph, 1)
	go func() {
		p, err := f.paragraphSvc.Generate(context.Background(), secondReq)
		assert.NoError(t, err)
		secondDone <- p
	}()
	guard := f.paragraphSvc.(*paragraphService).guard
	require.Eventually(t, func() bool {
		return guard.waiting("paragraph:"+stub.ID) == 2
	}, time.Second, 5*time.Millisecond)

	leave()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(step)

	p := <-secondDone
	require.NotNil(t, p)
	assert.Equal(t, "Channels connect goroutines.", p.Content())
	assert.Equal(t, []string{"Channels "}, chunks(&first), "nothing is sent after the caller left")
	assert.Equal(t, []string{"connect goroutines."}, chunks(&second))
}

func TestParagraphService_Generate_ReusesArtifactAcrossTopics(t *testing.T) {
	f := newFixture(t)
	a := f.topic(t, "Graph Databases", "s1")
	b := f.topic(t, "Graph Databases", "s2")
	oa := f.outline(t, a, 4)
	f.cache.Wait()
	ob := f.outline(t, b, 4)

	pa := f.generate(t, a, oa.Chapters[0].Paragraphs[0])
	f.cache.Wait()
	pb := f.generate(t, b, ob.Chapters[0].Paragraphs[0])

	assert.Equal(t, 1, f.generator.ParagraphCalls())
	assert.Equal(t, pa.Content(), pb.Content())
	assert.NotEqual(t, pa.ID, pb.ID)
}

func TestParagraphService_Generate_WrongTopic(t *testing.T) {
	f := newFixture(t)
	a := f.topic(t, "Graph Databases", "s1")
	b := f.topic(t, "Rust", "s1")
	oa := f.outline(t, a, 4)

	_, err := f.paragraphSvc.Generate(context.Background(), paragraphRequest(b, oa.Chapters[0].Paragraphs[0]))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	req := paragraphRequest(a, oa.Chapters[0].Paragraphs[0])
	req.OwnerID = "s2"
	_, err = f.paragraphSvc.Generate(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
