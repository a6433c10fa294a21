package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var (
	_ driven.EventPublisher  = (*EventBus)(nil)
	_ driven.EventSubscriber = (*EventBus)(nil)
)

// subscriberBuffer is how many events a slow subscriber may lag behind
// before further events to it are dropped
const subscriberBuffer = 32

type subscriber struct {
	ownerID string
	ch      chan *domain.Event
}

// EventBus delivers events to subscribers in the same process
type EventBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	logger *slog.Logger
}

// NewEventBus creates an in-process event bus
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{subs: make(map[*subscriber]struct{}), logger: logger}
}

// Publish never blocks on a subscriber
func (b *EventBus) Publish(ctx context.Context, event *domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.ownerID != event.OwnerID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				"owner_id", event.OwnerID,
				"event_type", event.Type,
			)
		}
	}
	return nil
}

func (b *EventBus) Subscribe(ctx context.Context, ownerID string) (<-chan *domain.Event, error) {
	sub := &subscriber{ownerID: ownerID, ch: make(chan *domain.Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, nil
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(sub)
	}()
	return sub.ch, nil
}

func (b *EventBus) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Close ends every subscription
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
	return nil
}
