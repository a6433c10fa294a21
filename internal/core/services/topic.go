package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

// Ensure topicService implements TopicService
var _ driving.TopicService = (*topicService)(nil)

// topicService resolves deterministic topic ids and owns topic lifecycle
type topicService struct {
	topics   driven.TopicStore
	outlines driven.OutlineStore
	cache    *ContentCache
	logger   *slog.Logger
}

// NewTopicService creates a new TopicService
func NewTopicService(topics driven.TopicStore, outlines driven.OutlineStore, cache *ContentCache, logger *slog.Logger) driving.TopicService {
	if logger == nil {
		logger = slog.Default()
	}
	return &topicService{
		topics:   topics,
		outlines: outlines,
		cache:    cache,
		logger:   logger,
	}
}

func (s *topicService) Resolve(title, ownerID string) string {
	return domain.ResolveTopicID(title, ownerID)
}

// GetOrCreate reads by the resolved id first and only inserts when absent.
// A concurrent insert of the same id is the same topic, so a conflict is
// resolved by re-reading.
func (s *topicService) GetOrCreate(ctx context.Context, req driving.CreateTopicRequest) (*domain.Topic, bool, error) {
	if req.OwnerID == "" {
		return nil, false, domain.ErrUnauthorized
	}
	topic, err := domain.NewTopic(req.Title, req.OwnerID, req.Origin, req.SourceLocator)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.topics.Get(ctx, topic.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("get topic: %w", err)
	}

	err = s.topics.Create(ctx, topic)
	if errors.Is(err, domain.ErrAlreadyExists) {
		existing, err := s.topics.Get(ctx, topic.ID)
		if err != nil {
			return nil, false, fmt.Errorf("get topic after conflict: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create topic: %w", err)
	}

	s.logger.Info("topic created", "topic_id", topic.ID, "owner_id", topic.OwnerID)
	return topic, true, nil
}

func (s *topicService) Get(ctx context.Context, ownerID, topicID string) (*domain.Topic, error) {
	return ownedTopic(ctx, s.topics, ownerID, topicID)
}

func (s *topicService) List(ctx context.Context, ownerID string) ([]*domain.Topic, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.topics.ListByOwner(ctx, ownerID)
}

// Delete cascades through outline, reading records and cache entries
// before removing the topic row itself.
func (s *topicService) Delete(ctx context.Context, ownerID, topicID string) error {
	if _, err := ownedTopic(ctx, s.topics, ownerID, topicID); err != nil {
		return err
	}

	if err := s.outlines.DeleteOutline(ctx, topicID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete outline: %w", err)
	}
	if err := s.cache.Purge(ctx, topicID); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	if err := s.topics.Delete(ctx, topicID); err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}

	s.logger.Info("topic deleted", "topic_id", topicID, "owner_id", ownerID)
	return nil
}
