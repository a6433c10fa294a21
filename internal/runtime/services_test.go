package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven/mocks"
)

// unpingable is a generator whose Ping fails
type unpingable struct {
	*mocks.MockContentGenerator
}

func (unpingable) Ping(ctx context.Context) error {
	return domain.ErrServiceUnavailable
}

func newServices() *Services {
	return NewServices(domain.NewRuntimeConfig(domain.BackendMemory, domain.BackendPostgres))
}

func TestServices_NoGenerator(t *testing.T) {
	s := newServices()
	ctx := context.Background()

	_, err := s.GenerateOutline(ctx, driven.Prompt{})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	_, err = s.GenerateParagraph(ctx, driven.Prompt{})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), domain.ErrServiceUnavailable)
	assert.Empty(t, s.Model())
	assert.False(t, s.Config().GeneratorAvailable())
}

func TestServices_SetGeneratorDelegates(t *testing.T) {
	s := newServices()
	ctx := context.Background()
	gen := mocks.NewMockContentGenerator()

	s.SetGenerator(ctx, gen)

	assert.True(t, s.Config().GeneratorAvailable())
	assert.Equal(t, "mock-model", s.Config().GeneratorModel())
	assert.Equal(t, "mock-model", s.Model())

	out, err := s.GenerateOutline(ctx, driven.Prompt{User: "go"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Chapters)
	assert.Equal(t, 1, gen.OutlineCalls())

	_, err = s.GenerateParagraph(ctx, driven.Prompt{User: "go"})
	require.NoError(t, err)
	assert.Equal(t, 1, gen.ParagraphCalls())
}

func TestServices_SetGeneratorUnpingable(t *testing.T) {
	s := newServices()
	s.SetGenerator(context.Background(), unpingable{mocks.NewMockContentGenerator()})

	assert.NotNil(t, s.Generator())
	assert.False(t, s.Config().GeneratorAvailable())
}

func TestServices_ValidateAndSetGenerator(t *testing.T) {
	s := newServices()
	ctx := context.Background()
	good := mocks.NewMockContentGenerator()

	require.NoError(t, s.ValidateAndSetGenerator(ctx, good))
	assert.Same(t, good, s.Generator())

	err := s.ValidateAndSetGenerator(ctx, unpingable{mocks.NewMockContentGenerator()})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Same(t, good, s.Generator(), "failed validation keeps the current generator")

	require.NoError(t, s.ValidateAndSetGenerator(ctx, nil))
	assert.Nil(t, s.Generator())
	assert.False(t, s.Config().GeneratorAvailable())
}

func TestFanout_PublishesToAll(t *testing.T) {
	a := mocks.NewMockEventPublisher()
	b := mocks.NewMockEventPublisher()
	f := NewFanout(nil, a, nil, b)

	event := domain.NewEvent(domain.EventOutlineGenerated, "owner-1", "topic-1")
	require.NoError(t, f.Publish(context.Background(), event))

	assert.Len(t, a.Events(""), 1)
	assert.Len(t, b.Events(""), 1)
}

func TestFanout_OneFailureDoesNotStopOthers(t *testing.T) {
	a := mocks.NewMockEventPublisher()
	a.PublishFn = func(*domain.Event) error { return errors.New("kafka down") }
	b := mocks.NewMockEventPublisher()
	f := NewFanout(nil, a, b)

	err := f.Publish(context.Background(), domain.NewEvent(domain.EventOutlineGenerated, "owner-1", "topic-1"))

	assert.EqualError(t, err, "kafka down")
	assert.Len(t, b.Events(""), 1)
	assert.NoError(t, f.Close())
}
