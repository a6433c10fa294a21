package driven

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// EventPublisher publishes progress events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}

// EventSubscriber streams an owner's events until ctx is cancelled.
// The returned channel is closed when the subscription ends.
type EventSubscriber interface {
	Subscribe(ctx context.Context, ownerID string) (<-chan *domain.Event, error)
}
