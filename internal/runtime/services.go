package runtime

import (
	"context"
	"sync"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.ContentGenerator = (*Services)(nil)

// Services holds the content generator, which can be replaced while the
// process runs. Services itself is a ContentGenerator that delegates to
// the current one, so the core services are built once.
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	// Config tracks capability flags
	config *domain.RuntimeConfig

	generator driven.ContentGenerator
}

// NewServices creates a new Services registry
func NewServices(config *domain.RuntimeConfig) *Services {
	return &Services{config: config}
}

// Config returns the runtime configuration
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// Generator returns the current content generator (may be nil)
func (s *Services) Generator() driven.ContentGenerator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generator
}

// SetGenerator replaces the content generator and updates config flags.
// A generator that fails Ping is kept but reported unavailable.
func (s *Services) SetGenerator(ctx context.Context, gen driven.ContentGenerator) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generator = gen
	model := ""
	if gen != nil && gen.Ping(ctx) == nil {
		model = gen.Model()
	}
	s.config.SetGenerator(model)
}

// ValidateAndSetGenerator checks the generator before installing it.
// The current generator is kept when validation fails.
func (s *Services) ValidateAndSetGenerator(ctx context.Context, gen driven.ContentGenerator) error {
	if gen == nil {
		s.SetGenerator(ctx, nil)
		return nil
	}
	if err := gen.Ping(ctx); err != nil {
		return err
	}
	s.SetGenerator(ctx, gen)
	return nil
}

func (s *Services) current() (driven.ContentGenerator, error) {
	gen := s.Generator()
	if gen == nil {
		return nil, domain.ErrServiceUnavailable
	}
	return gen, nil
}

func (s *Services) GenerateOutline(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedOutline, error) {
	gen, err := s.current()
	if err != nil {
		return nil, err
	}
	return gen.GenerateOutline(ctx, prompt)
}

func (s *Services) GenerateParagraph(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
	gen, err := s.current()
	if err != nil {
		return nil, err
	}
	return gen.GenerateParagraph(ctx, prompt)
}

func (s *Services) Model() string {
	if gen := s.Generator(); gen != nil {
		return gen.Model()
	}
	return ""
}

func (s *Services) Ping(ctx context.Context) error {
	gen, err := s.current()
	if err != nil {
		return err
	}
	return gen.Ping(ctx)
}
