package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.ContentGenerator = (*MockContentGenerator)(nil)

// MockContentGenerator returns well-formed content of a configurable shape.
// Delay is honored against ctx so timeouts and cancellation can be tested.
type MockContentGenerator struct {
	Chapters   int
	Paragraphs int
	Delay      time.Duration

	OutlineFn   func(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedOutline, error)
	ParagraphFn func(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error)

	outlineCalls   atomic.Int32
	paragraphCalls atomic.Int32

	mu      sync.Mutex
	prompts []driven.Prompt
}

// NewMockContentGenerator creates a generator producing 4 chapters of 3 paragraphs
func NewMockContentGenerator() *MockContentGenerator {
	return &MockContentGenerator{Chapters: 4, Paragraphs: 3}
}

func (m *MockContentGenerator) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Delay):
		return nil
	}
}

func (m *MockContentGenerator) record(p driven.Prompt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, p)
}

func (m *MockContentGenerator) GenerateOutline(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedOutline, error) {
	m.outlineCalls.Add(1)
	m.record(prompt)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.OutlineFn != nil {
		return m.OutlineFn(ctx, prompt)
	}

	g := &domain.GeneratedOutline{Title: "Generated outline", Description: "Generated for tests"}
	for i := 1; i <= m.Chapters; i++ {
		ch := domain.GeneratedChapter{Title: fmt.Sprintf("Chapter %d", i)}
		for j := 1; j <= m.Paragraphs; j++ {
			ch.Paragraphs = append(ch.Paragraphs, domain.GeneratedStub{Summary: fmt.Sprintf("Summary %d.%d", i, j)})
		}
		g.Chapters = append(g.Chapters, ch)
	}
	return g, nil
}

func (m *MockContentGenerator) GenerateParagraph(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
	n := m.paragraphCalls.Add(1)
	m.record(prompt)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.ParagraphFn != nil {
		return m.ParagraphFn(ctx, prompt)
	}

	content := fmt.Sprintf("Generated paragraph %d.", n)
	if prompt.OnChunk != nil {
		for _, word := range strings.SplitAfter(content, " ") {
			prompt.OnChunk(word)
		}
	}
	return &domain.GeneratedParagraph{Content: content}, nil
}

func (m *MockContentGenerator) Model() string {
	return "mock-model"
}

func (m *MockContentGenerator) Ping(ctx context.Context) error {
	return nil
}

// OutlineCalls returns the number of outline generations requested
func (m *MockContentGenerator) OutlineCalls() int {
	return int(m.outlineCalls.Load())
}

// ParagraphCalls returns the number of paragraph generations requested
func (m *MockContentGenerator) ParagraphCalls() int {
	return int(m.paragraphCalls.Load())
}

// LastPrompt returns the most recent prompt, or a zero Prompt
func (m *MockContentGenerator) LastPrompt() driven.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return driven.Prompt{}
	}
	return m.prompts[len(m.prompts)-1]
}
