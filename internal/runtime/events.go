package runtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.EventPublisher = (*Fanout)(nil)

// Fanout publishes every event to all of its publishers, typically the
// bus that feeds SSE subscribers and the Kafka topic.
type Fanout struct {
	publishers []driven.EventPublisher
	logger     *slog.Logger
}

// NewFanout creates a publisher over pubs. Nil entries are skipped.
func NewFanout(logger *slog.Logger, pubs ...driven.EventPublisher) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{logger: logger}
	for _, p := range pubs {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Publish delivers to every publisher. One failing publisher does not
// stop delivery to the others.
func (f *Fanout) Publish(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher
func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			f.logger.Warn("failed to close event publisher", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
