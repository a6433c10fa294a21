package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driving"
)

// Ensure resumptionService implements ResumptionService
var _ driving.ResumptionService = (*resumptionService)(nil)

type resumptionService struct {
	topics   driven.TopicStore
	outlines driven.OutlineStore
	progress driven.ProgressStore
}

// NewResumptionService creates a new ResumptionService
func NewResumptionService(topics driven.TopicStore, outlines driven.OutlineStore, progress driven.ProgressStore) driving.ResumptionService {
	return &resumptionService{topics: topics, outlines: outlines, progress: progress}
}

// Analyze reads the authoritative outline, not the snapshot tier, so the
// next pointer reflects paragraphs generated by other instances.
func (s *resumptionService) Analyze(ctx context.Context, ownerID, topicID string) (*domain.ResumptionInfo, error) {
	if _, err := ownedTopic(ctx, s.topics, ownerID, topicID); err != nil {
		return nil, err
	}

	outline, err := s.outlines.GetOutline(ctx, topicID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.AnalyzeResumption(topicID, nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outline: %w", err)
	}

	records, err := s.progress.ListRecords(ctx, ownerID, topicID)
	if err != nil {
		return nil, fmt.Errorf("list reading records: %w", err)
	}
	return domain.AnalyzeResumption(topicID, outline, records), nil
}
