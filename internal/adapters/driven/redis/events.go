package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var (
	_ driven.EventPublisher  = (*EventBus)(nil)
	_ driven.EventSubscriber = (*EventBus)(nil)
)

const eventChannelPrefix = "tutor:events:"

// EventBus fans progress events out over Redis pub/sub, one channel per
// owner. Subscribers that are not connected miss events.
type EventBus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewEventBus creates a pub/sub event bus
func NewEventBus(client *redis.Client, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{client: client, logger: logger}
}

func eventChannel(ownerID string) string {
	return eventChannelPrefix + ownerID
}

func (b *EventBus) Publish(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, eventChannel(event.OwnerID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams the owner's events until ctx is done
func (b *EventBus) Subscribe(ctx context.Context, ownerID string) (<-chan *domain.Event, error) {
	sub := b.client.Subscribe(ctx, eventChannel(ownerID))
	// Wait for the confirmation so no event published after return is lost
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan *domain.Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- &event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the Redis client is shared
func (b *EventBus) Close() error {
	return nil
}
