package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

var _ driving.CacheService = (*ContentCache)(nil)

// ContentCache fronts both cache tiers.
//
// The durable tier maps a generation fingerprint to an artifact and is
// shared by every topic and owner. The snapshot tier holds hydrated
// outline trees by topic. Neither tier ever triggers generation; reads
// that fail for any reason are misses, writes are fire-and-forget.
type ContentCache struct {
	store    driven.CacheStore
	snapshot driven.SnapshotCache
	topics   driven.TopicStore
	outlines driven.OutlineStore
	logger   *slog.Logger

	writeTimeout time.Duration
	pending      sync.WaitGroup
	now          func() time.Time
}

// ContentCacheConfig holds dependencies for the ContentCache
type ContentCacheConfig struct {
	Store        driven.CacheStore
	Snapshot     driven.SnapshotCache // Optional: snapshot tier
	Topics       driven.TopicStore
	Outlines     driven.OutlineStore
	Logger       *slog.Logger
	WriteTimeout time.Duration // Bound on a background cache write (default: 10s)
}

// NewContentCache creates a new ContentCache
func NewContentCache(cfg ContentCacheConfig) *ContentCache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &ContentCache{
		store:        cfg.Store,
		snapshot:     cfg.Snapshot,
		topics:       cfg.Topics,
		outlines:     cfg.Outlines,
		logger:       logger,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// GetCached returns the topic's most recent artifact of the given type,
// provided it was generated for the same inputs. Returns domain.ErrCacheMiss
// otherwise.
func (c *ContentCache) GetCached(ctx context.Context, topicID string, contentType domain.ContentType, in domain.FingerprintInputs) (*domain.CacheEntry, error) {
	entry, err := c.store.Latest(ctx, topicID, contentType)
	if err != nil {
		c.logMiss(err, "topic_id", topicID, "content_type", contentType)
		return nil, domain.ErrCacheMiss
	}
	if !entry.Matches(in) {
		c.logger.Debug("cached artifact generated for other inputs",
			"topic_id", topicID,
			"content_type", contentType,
			"cached_fingerprint", entry.Fingerprint,
		)
		return nil, domain.ErrCacheMiss
	}
	return entry, nil
}

// Lookup returns the newest artifact generated for the inputs by any topic
func (c *ContentCache) Lookup(ctx context.Context, contentType domain.ContentType, in domain.FingerprintInputs) (*domain.CacheEntry, error) {
	entry, err := c.store.FindByFingerprint(ctx, contentType, in.Fingerprint())
	if err != nil {
		c.logMiss(err, "content_type", contentType)
		return nil, domain.ErrCacheMiss
	}
	if !entry.Matches(in) {
		return nil, domain.ErrCacheMiss
	}
	return entry, nil
}

func (c *ContentCache) logMiss(err error, args ...any) {
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	c.logger.Warn("cache read failed, treating as miss", append(args, "error", err)...)
}

// PutCached stores an artifact in the background. The caller's context
// only contributes values; the write outlives cancellation and failures
// are logged.
func (c *ContentCache) PutCached(ctx context.Context, topicID string, contentType domain.ContentType, artifact any, in domain.FingerprintInputs, elapsed time.Duration) {
	data, err := json.Marshal(artifact)
	if err != nil {
		c.logger.Warn("failed to encode cache artifact", "topic_id", topicID, "error", err)
		return
	}

	entry := &domain.CacheEntry{
		TopicID:     topicID,
		ContentType: contentType,
		Fingerprint: in.Fingerprint(),
		Inputs:      in,
		Artifact:    data,
		ElapsedMs:   elapsed.Milliseconds(),
		CreatedAt:   c.now().UTC(),
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
		defer cancel()

		if err := c.store.Put(wctx, entry); err != nil {
			c.logger.Warn("failed to write cache entry",
				"topic_id", topicID,
				"content_type", contentType,
				"error", err,
			)
		}
	}()
}

// Wait blocks until background writes have finished
func (c *ContentCache) Wait() {
	c.pending.Wait()
}

// ShouldRegenerate reports whether a topic's outline should be generated
// again: when nothing is cached or the cached outline is older than
// maxAgeHours. It never regenerates anything itself.
func (c *ContentCache) ShouldRegenerate(ctx context.Context, ownerID, topicID string, maxAgeHours int) (*domain.Staleness, error) {
	if _, err := ownedTopic(ctx, c.topics, ownerID, topicID); err != nil {
		return nil, err
	}
	if maxAgeHours <= 0 {
		maxAgeHours = domain.DefaultMaxAgeHours
	}
	result := &domain.Staleness{TopicID: topicID, MaxAgeHours: maxAgeHours}

	var cachedAt time.Time
	entry, err := c.store.Latest(ctx, topicID, domain.ContentTypeOutline)
	switch {
	case err == nil:
		cachedAt = entry.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		o, oerr := c.outlines.GetOutline(ctx, topicID)
		if oerr != nil && !errors.Is(oerr, domain.ErrNotFound) {
			return nil, oerr
		}
		if o != nil {
			cachedAt = o.CreatedAt
		}
	default:
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	if cachedAt.IsZero() {
		result.Regenerate = true
		result.Reason = "no cached outline"
		return result, nil
	}

	result.CachedAt = &cachedAt
	if c.now().Sub(cachedAt) > time.Duration(maxAgeHours)*time.Hour {
		result.Regenerate = true
		result.Reason = fmt.Sprintf("cached outline older than %d hours", maxAgeHours)
		return result, nil
	}
	result.Reason = "cached outline is fresh"
	return result, nil
}

// TopicTree returns the hydrated outline of a topic, from the snapshot
// tier when possible and from the outline store otherwise.
func (c *ContentCache) TopicTree(ctx context.Context, topicID string) (*domain.Outline, error) {
	if c.snapshot != nil {
		o, err := c.snapshot.Get(ctx, topicID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn("snapshot read failed", "topic_id", topicID, "error", err)
		}
	}

	o, err := c.outlines.GetOutline(ctx, topicID)
	if err != nil {
		return nil, err
	}
	c.Remember(ctx, o)
	return o, nil
}

// Remember caches a topic tree in the snapshot tier
func (c *ContentCache) Remember(ctx context.Context, o *domain.Outline) {
	if c.snapshot == nil || o == nil {
		return
	}
	if err := c.snapshot.Set(ctx, o); err != nil {
		c.logger.Warn("failed to cache topic tree", "topic_id", o.TopicID, "error", err)
	}
}

// Forget drops a topic tree from the snapshot tier
func (c *ContentCache) Forget(ctx context.Context, topicID string) {
	if c.snapshot == nil {
		return
	}
	if err := c.snapshot.Invalidate(context.WithoutCancel(ctx), topicID); err != nil {
		c.logger.Warn("failed to invalidate topic tree", "topic_id", topicID, "error", err)
	}
}

// Purge removes every durable entry of a topic and its snapshot
func (c *ContentCache) Purge(ctx context.Context, topicID string) error {
	c.Forget(ctx, topicID)
	return c.store.DeleteByTopic(ctx, topicID)
}

func decodeArtifact[T any](entry *domain.CacheEntry) (*T, error) {
	var v T
	if err := json.Unmarshal(entry.Artifact, &v); err != nil {
		return nil, fmt.Errorf("decode cache artifact %d: %w", entry.ID, err)
	}
	return &v, nil
}
