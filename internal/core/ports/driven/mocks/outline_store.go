package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.OutlineStore = (*MockOutlineStore)(nil)

// MockOutlineStore keeps deep copies of outlines so callers cannot
// mutate stored state by accident.
type MockOutlineStore struct {
	mu        sync.RWMutex
	outlines  map[string]*domain.Outline
	saves     int
	completes int
	onDelete  []func(topicID string)

	SaveFn     func(outline *domain.Outline) error
	CompleteFn func(paragraph *domain.Paragraph) error
}

// NewMockOutlineStore creates a new MockOutlineStore
func NewMockOutlineStore() *MockOutlineStore {
	return &MockOutlineStore{outlines: make(map[string]*domain.Outline)}
}

func (m *MockOutlineStore) GetOutline(ctx context.Context, topicID string) (*domain.Outline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outlines[topicID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MockOutlineStore) SaveOutline(ctx context.Context, outline *domain.Outline) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(outline); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outlines[outline.TopicID]; ok {
		return domain.ErrAlreadyExists
	}
	m.outlines[outline.TopicID] = outline.Clone()
	m.saves++
	return nil
}

func (m *MockOutlineStore) ReplaceOutline(ctx context.Context, outline *domain.Outline) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(outline); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.outlines[outline.TopicID] = outline.Clone()
	m.saves++
	hooks := m.onDelete
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(outline.TopicID)
	}
	return nil
}

func (m *MockOutlineStore) DeleteOutline(ctx context.Context, topicID string) error {
	m.mu.Lock()
	delete(m.outlines, topicID)
	hooks := m.onDelete
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(topicID)
	}
	return nil
}

func (m *MockOutlineStore) GetParagraph(ctx context.Context, paragraphID string) (*domain.Paragraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.outlines {
		if _, p := o.Paragraph(paragraphID); p != nil {
			cp := *p
			if p.Body != nil {
				b := *p.Body
				cp.Body = &b
			}
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockOutlineStore) CompleteParagraph(ctx context.Context, paragraph *domain.Paragraph) error {
	if m.CompleteFn != nil {
		if err := m.CompleteFn(paragraph); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outlines[paragraph.TopicID]
	if !ok {
		return domain.ErrNotFound
	}
	_, p := o.Paragraph(paragraph.ID)
	if p == nil {
		return domain.ErrNotFound
	}
	if p.IsGenerated() {
		return domain.ErrAlreadyExists
	}
	body := *paragraph.Body
	p.Body = &body
	p.Summary = paragraph.Summary
	p.Metadata = paragraph.Metadata
	m.completes++
	return nil
}

// SaveCount returns how many outlines were written
func (m *MockOutlineStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// CompleteCount returns how many paragraphs were completed
func (m *MockOutlineStore) CompleteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.completes
}

func (m *MockOutlineStore) onTopicDelete(fn func(topicID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDelete = append(m.onDelete, fn)
}
