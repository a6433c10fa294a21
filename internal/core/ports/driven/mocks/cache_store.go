package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var (
	_ driven.CacheStore          = (*MockCacheStore)(nil)
	_ driven.SnapshotCache       = (*MockSnapshotCache)(nil)
	_ driven.ReadingSessionStore = (*MockReadingSessionStore)(nil)
)

// MockCacheStore is a mock implementation of CacheStore for testing
type MockCacheStore struct {
	mu      sync.RWMutex
	entries []*domain.CacheEntry
	nextID  int64

	PutFn func(entry *domain.CacheEntry) error
}

// NewMockCacheStore creates a new MockCacheStore
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{}
}

func (m *MockCacheStore) newest(match func(e *domain.CacheEntry) bool) (*domain.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *domain.CacheEntry
	for _, e := range m.entries {
		if !match(e) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) || (e.CreatedAt.Equal(best.CreatedAt) && e.ID > best.ID) {
			best = e
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MockCacheStore) Latest(ctx context.Context, topicID string, contentType domain.ContentType) (*domain.CacheEntry, error) {
	return m.newest(func(e *domain.CacheEntry) bool {
		return e.TopicID == topicID && e.ContentType == contentType
	})
}

func (m *MockCacheStore) FindByFingerprint(ctx context.Context, contentType domain.ContentType, fingerprint string) (*domain.CacheEntry, error) {
	return m.newest(func(e *domain.CacheEntry) bool {
		return e.ContentType == contentType && e.Fingerprint == fingerprint
	})
}

func (m *MockCacheStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if m.PutFn != nil {
		if err := m.PutFn(entry); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *entry
	cp.ID = m.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MockCacheStore) DeleteByTopic(ctx context.Context, topicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.TopicID != topicID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

// Entries returns copies of all stored entries
func (m *MockCacheStore) Entries() []*domain.CacheEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.CacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// MockSnapshotCache is a map-backed SnapshotCache
type MockSnapshotCache struct {
	mu    sync.RWMutex
	trees map[string]*domain.Outline
}

// NewMockSnapshotCache creates a new MockSnapshotCache
func NewMockSnapshotCache() *MockSnapshotCache {
	return &MockSnapshotCache{trees: make(map[string]*domain.Outline)}
}

func (m *MockSnapshotCache) Get(ctx context.Context, topicID string) (*domain.Outline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.trees[topicID]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return o.Clone(), nil
}

func (m *MockSnapshotCache) Set(ctx context.Context, outline *domain.Outline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[outline.TopicID] = outline.Clone()
	return nil
}

func (m *MockSnapshotCache) Invalidate(ctx context.Context, topicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trees, topicID)
	return nil
}

// Has reports whether a topic's tree is cached
func (m *MockSnapshotCache) Has(topicID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trees[topicID]
	return ok
}

// MockReadingSessionStore is a map-backed ReadingSessionStore
type MockReadingSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.ReadingSession
}

// NewMockReadingSessionStore creates a new MockReadingSessionStore
func NewMockReadingSessionStore() *MockReadingSessionStore {
	return &MockReadingSessionStore{sessions: make(map[string]*domain.ReadingSession)}
}

func (m *MockReadingSessionStore) Swap(ctx context.Context, session *domain.ReadingSession) (*domain.ReadingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.sessions[session.OwnerID]
	cp := *session
	m.sessions[session.OwnerID] = &cp
	return prev, nil
}

func (m *MockReadingSessionStore) Take(ctx context.Context, ownerID string) (*domain.ReadingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.sessions[ownerID]
	delete(m.sessions, ownerID)
	return prev, nil
}
