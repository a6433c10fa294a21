package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

func TestResumptionService_NoOutline(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")

	info, err := f.resumption.Analyze(context.Background(), "s1", topic.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.RecommendExplore, info.Recommendation)
	assert.False(t, info.HasOutline)
	assert.Nil(t, info.Next)
}

func TestResumptionService_ContinueAfterFirstChapter(t *testing.T) {
	f := newFixture(t)
	topic, o, ch, ps := generatedChapter(t, f)
	for _, p := range ps {
		f.read(t, topic, ch, p)
	}

	info, err := f.resumption.Analyze(context.Background(), "s1", topic.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.RecommendContinue, info.Recommendation)
	require.NotNil(t, info.Next)
	assert.Equal(t, o.Chapters[1].ID, info.Next.ChapterID)
	assert.Equal(t, 2, info.Next.ChapterIndex)
	assert.Equal(t, 1, info.Next.ParagraphIndex)
	assert.False(t, info.Next.Generated)
	assert.Equal(t, 1, info.CompletedChapters)
	assert.Equal(t, 3, info.ReadParagraphs)
	assert.Equal(t, 12, info.TotalParagraphs)
}

func TestResumptionService_SeesParagraphsGeneratedElsewhere(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	ctx := context.Background()

	// the snapshot tier holds the tree as it was before generation
	f.cache.Remember(ctx, o)
	first := o.Chapters[0].Paragraphs[0]
	done := *first
	done.Complete(&domain.GeneratedParagraph{Content: "written elsewhere"}, time.Now())
	require.NoError(t, f.outlines.CompleteParagraph(ctx, &done))

	info, err := f.resumption.Analyze(ctx, "s1", topic.ID)
	require.NoError(t, err)

	require.NotNil(t, info.Next)
	assert.Equal(t, first.ID, info.Next.ParagraphID)
	assert.True(t, info.Next.Generated)
}

func TestResumptionService_Ownership(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")

	_, err := f.resumption.Analyze(context.Background(), "s2", topic.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.resumption.Analyze(context.Background(), "s1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
