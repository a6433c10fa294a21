package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

func readingSession(ownerID, paragraphID string) *domain.ReadingSession {
	return &domain.ReadingSession{
		OwnerID:     ownerID,
		TopicID:     "topic-1",
		ChapterID:   "chapter-1",
		ParagraphID: paragraphID,
		StartedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSessionStore_SwapReturnsPrevious(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewSessionStore(client, time.Hour)
	ctx := context.Background()

	prev, err := store.Swap(ctx, readingSession("owner-1", "p-1"))
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = store.Swap(ctx, readingSession("owner-1", "p-2"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "p-1", prev.ParagraphID)

	got, err := store.Take(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p-2", got.ParagraphID)
}

func TestSessionStore_TakeEmpty(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewSessionStore(client, 0)

	got, err := store.Take(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_TakeRemoves(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client, 0)
	ctx := context.Background()

	_, err := store.Swap(ctx, readingSession("owner-1", "p-1"))
	require.NoError(t, err)

	_, err = store.Take(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, mr.Exists(sessionPrefix+"owner-1"))

	again, err := store.Take(ctx, "owner-1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestSessionStore_OwnersIsolated(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewSessionStore(client, 0)
	ctx := context.Background()

	_, err := store.Swap(ctx, readingSession("owner-1", "p-1"))
	require.NoError(t, err)
	prev, err := store.Swap(ctx, readingSession("owner-2", "p-9"))
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestSessionStore_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client, time.Minute)
	ctx := context.Background()

	_, err := store.Swap(ctx, readingSession("owner-1", "p-1"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(sessionPrefix+"owner-1"))

	mr.FastForward(2 * time.Minute)
	got, err := store.Take(ctx, "owner-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_InvalidJSON(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewSessionStore(client, 0)
	require.NoError(t, mr.Set(sessionPrefix+"owner-1", "not json"))

	_, err := store.Take(context.Background(), "owner-1")
	assert.Error(t, err)
}
