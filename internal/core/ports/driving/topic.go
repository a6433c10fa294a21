package driving

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// CreateTopicRequest is the input of GetOrCreate
type CreateTopicRequest struct {
	OwnerID       string             `json:"-"`
	Title         string             `json:"title"`
	Origin        domain.TopicOrigin `json:"origin,omitempty"`
	SourceLocator string             `json:"source_locator,omitempty"`
}

// TopicService resolves topic identity and manages topic lifecycle
type TopicService interface {
	// Resolve returns the deterministic topic id for (title, owner)
	Resolve(title, ownerID string) string

	// GetOrCreate returns the owner's topic for the title, creating it if
	// absent. created reports whether this call inserted it.
	GetOrCreate(ctx context.Context, req CreateTopicRequest) (topic *domain.Topic, created bool, err error)

	// Get retrieves a topic owned by ownerID
	Get(ctx context.Context, ownerID, topicID string) (*domain.Topic, error)

	// List lists the owner's topics
	List(ctx context.Context, ownerID string) ([]*domain.Topic, error)

	// Delete removes a topic and everything that depends on it
	Delete(ctx context.Context, ownerID, topicID string) error
}
