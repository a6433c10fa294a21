package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

func TestTopicService_GetOrCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := driving.CreateTopicRequest{OwnerID: "s1", Title: "Graph Databases"}

	first, created, err := f.topicSvc.GetOrCreate(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)

	req.Title = "  graph   DATABASES "
	second, created, err := f.topicSvc.GetOrCreate(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, f.topicSvc.Resolve("Graph Databases", "s1"), first.ID)
	assert.Equal(t, 1, f.topics.Count())
}

func TestTopicService_GetOrCreate_OwnersAreDistinct(t *testing.T) {
	f := newFixture(t)

	a := f.topic(t, "Graph Databases", "s1")
	b := f.topic(t, "Graph Databases", "s2")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, f.topics.Count())
}

func TestTopicService_GetOrCreate_ConcurrentInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// another resolver inserts the same id between our read and our insert
	f.topics.CreateFn = func(topic *domain.Topic) error {
		f.topics.CreateFn = nil
		require.NoError(t, f.topics.Create(ctx, topic))
		return domain.ErrAlreadyExists
	}

	topic, created, err := f.topicSvc.GetOrCreate(ctx, driving.CreateTopicRequest{OwnerID: "s1", Title: "Graph Databases"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.ResolveTopicID("Graph Databases", "s1"), topic.ID)
	assert.Equal(t, 1, f.topics.Count())
}

func TestTopicService_GetOrCreate_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.topicSvc.GetOrCreate(ctx, driving.CreateTopicRequest{OwnerID: "s1", Title: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = f.topicSvc.GetOrCreate(ctx, driving.CreateTopicRequest{Title: "Graph Databases"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTopicService_Get_Ownership(t *testing.T) {
	f := newFixture(t)
	topic := f.topic(t, "Graph Databases", "s1")

	got, err := f.topicSvc.Get(context.Background(), "s1", topic.ID)
	require.NoError(t, err)
	assert.Equal(t, topic.Title, got.Title)

	_, err = f.topicSvc.Get(context.Background(), "s2", topic.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.topicSvc.Get(context.Background(), "s1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopicService_List(t *testing.T) {
	f := newFixture(t)
	f.topic(t, "Graph Databases", "s1")
	f.topic(t, "Rust", "s1")
	f.topic(t, "Go", "s2")

	topics, err := f.topicSvc.List(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, topics, 2)
}

func TestTopicService_Delete_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := f.topic(t, "Graph Databases", "s1")
	o := f.outline(t, topic, 4)
	ch := o.Chapters[0]
	p := f.generate(t, topic, ch.Paragraphs[0])
	f.read(t, topic, ch, p)
	f.cache.Wait()
	require.NotEmpty(t, f.cacheStore.Entries())

	err := f.topicSvc.Delete(ctx, "s2", topic.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, f.topicSvc.Delete(ctx, "s1", topic.ID))

	_, err = f.topics.Get(ctx, topic.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.outlines.GetOutline(ctx, topic.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.progress.Count())
	assert.Empty(t, f.cacheStore.Entries())
	assert.False(t, f.snapshot.Has(topic.ID))
}
