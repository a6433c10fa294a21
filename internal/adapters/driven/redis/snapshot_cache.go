package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SnapshotCache = (*SnapshotCache)(nil)

const snapshotPrefix = "tutor:snapshot:"

// SnapshotCache shares hydrated outline trees between instances
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a snapshot tier whose entries live for ttl
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func (c *SnapshotCache) Get(ctx context.Context, topicID string) (*domain.Outline, error) {
	data, err := c.client.Get(ctx, snapshotPrefix+topicID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var outline domain.Outline
	if err := json.Unmarshal(data, &outline); err != nil {
		// Drop what we cannot read so the next Set repairs it
		c.client.Del(ctx, snapshotPrefix+topicID)
		return nil, domain.ErrCacheMiss
	}
	return &outline, nil
}

func (c *SnapshotCache) Set(ctx context.Context, outline *domain.Outline) error {
	data, err := json.Marshal(outline)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotPrefix+outline.TopicID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context, topicID string) error {
	if err := c.client.Del(ctx, snapshotPrefix+topicID).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}
