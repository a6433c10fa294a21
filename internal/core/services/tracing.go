package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var tracer = otel.Tracer("github.com/custodia-labs/tutor-core/internal/core/services")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// generationError classifies a generator failure. Validation failures pass
// through; everything else is a retryable generation failure.
func generationError(unit string, err error) error {
	if errors.Is(err, domain.ErrValidationFailed) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrGenerationFailed, unit, err)
}

const publishTimeout = 5 * time.Second

// publish sends an event. Failures are logged, never returned.
func publish(ctx context.Context, pub driven.EventPublisher, logger *slog.Logger, event *domain.Event) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := pub.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			"event_type", event.Type,
			"topic_id", event.TopicID,
			"error", err,
		)
	}
}

// ownedTopic loads a topic and checks it belongs to ownerID
func ownedTopic(ctx context.Context, topics driven.TopicStore, ownerID, topicID string) (*domain.Topic, error) {
	if ownerID == "" {
		return nil, domain.ErrUnauthorized
	}
	if topicID == "" {
		return nil, fmt.Errorf("%w: topic id required", domain.ErrInvalidInput)
	}
	topic, err := topics.Get(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if !topic.OwnedBy(ownerID) {
		return nil, domain.ErrForbidden
	}
	return topic, nil
}
