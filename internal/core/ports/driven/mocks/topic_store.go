package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.TopicStore = (*MockTopicStore)(nil)

// MockTopicStore is a mock implementation of TopicStore for testing
type MockTopicStore struct {
	mu     sync.RWMutex
	topics map[string]*domain.Topic

	// CreateFn runs before the insert; a non-nil error aborts it
	CreateFn func(topic *domain.Topic) error
}

// NewMockTopicStore creates a new MockTopicStore
func NewMockTopicStore() *MockTopicStore {
	return &MockTopicStore{topics: make(map[string]*domain.Topic)}
}

func (m *MockTopicStore) Get(ctx context.Context, id string) (*domain.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTopicStore) Create(ctx context.Context, topic *domain.Topic) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(topic); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topics[topic.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *topic
	m.topics[topic.ID] = &cp
	return nil
}

func (m *MockTopicStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Topic
	for _, t := range m.topics {
		if t.OwnerID == ownerID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockTopicStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topics[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.topics, id)
	return nil
}

// Count returns the number of stored topics
func (m *MockTopicStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics)
}
