// Package memory holds in-process adapters for single-instance
// deployments and for tests that need real behavior without Redis.
package memory

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.SnapshotCache = (*SnapshotCache)(nil)

type snapshot struct {
	outline  *domain.Outline
	cachedAt time.Time
}

// SnapshotCache keeps the most recently used outline trees in process.
// Entries expire after ttl and the least recently used tree is evicted
// once size is reached.
type SnapshotCache struct {
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

// NewSnapshotCache creates an LRU snapshot tier
func NewSnapshotCache(size int, ttl time.Duration) (*SnapshotCache, error) {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &SnapshotCache{entries: entries, ttl: ttl, now: time.Now}, nil
}

func (c *SnapshotCache) Get(ctx context.Context, topicID string) (*domain.Outline, error) {
	v, ok := c.entries.Get(topicID)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	s := v.(snapshot)
	if c.now().Sub(s.cachedAt) > c.ttl {
		c.entries.Remove(topicID)
		return nil, domain.ErrCacheMiss
	}
	return s.outline.Clone(), nil
}

func (c *SnapshotCache) Set(ctx context.Context, outline *domain.Outline) error {
	c.entries.Add(outline.TopicID, snapshot{outline: outline.Clone(), cachedAt: c.now()})
	return nil
}

func (c *SnapshotCache) Invalidate(ctx context.Context, topicID string) error {
	c.entries.Remove(topicID)
	return nil
}

// Len returns the number of cached trees, expired ones included
func (c *SnapshotCache) Len() int {
	return c.entries.Len()
}
