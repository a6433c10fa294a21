package driven

import (
	"context"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
)

// Prompt is a single request to the content generator
type Prompt struct {
	System          string
	User            string
	MaxOutputTokens int

	// OnChunk receives raw text as it streams in (optional)
	OnChunk func(chunk string)
}

// ContentGenerator is the external generative capability.
// Both operations return structured output that callers still validate.
type ContentGenerator interface {
	// GenerateOutline returns a structured outline
	GenerateOutline(ctx context.Context, prompt Prompt) (*domain.GeneratedOutline, error)

	// GenerateParagraph returns one paragraph body
	GenerateParagraph(ctx context.Context, prompt Prompt) (*domain.GeneratedParagraph, error)

	// Model returns the model tag recorded on generated content
	Model() string

	// Ping verifies the generator is configured
	Ping(ctx context.Context) error
}
