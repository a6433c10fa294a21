package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

var _ driven.ProgressStore = (*MockProgressStore)(nil)

// MockProgressStore resolves paragraphs through a MockOutlineStore so it
// can enforce the same references the SQL store does. Deleting or
// replacing an outline drops the topic's records.
type MockProgressStore struct {
	mu       sync.Mutex
	outlines *MockOutlineStore
	records  map[string]*domain.ReadingRecord

	MarkReadFn func(record *domain.ReadingRecord) error
}

// NewMockProgressStore creates a new MockProgressStore backed by outlines
func NewMockProgressStore(outlines *MockOutlineStore) *MockProgressStore {
	m := &MockProgressStore{
		outlines: outlines,
		records:  make(map[string]*domain.ReadingRecord),
	}
	outlines.onTopicDelete(m.deleteTopic)
	return m
}

func recordKey(ownerID, topicID, paragraphID string) string {
	return ownerID + "|" + topicID + "|" + paragraphID
}

func (m *MockProgressStore) chapter(ctx context.Context, r *domain.ReadingRecord) (*domain.Chapter, *domain.Paragraph, error) {
	o, err := m.outlines.GetOutline(ctx, r.TopicID)
	if err != nil {
		return nil, nil, domain.ErrStaleReference
	}
	ch, p := o.Paragraph(r.ParagraphID)
	if p == nil || ch.ID != r.ChapterID || !p.IsGenerated() {
		return nil, nil, domain.ErrStaleReference
	}
	return ch, p, nil
}

// tally counts read records of ch; callers hold m.mu
func (m *MockProgressStore) tally(ownerID string, ch *domain.Chapter) (int, *time.Time) {
	read := 0
	var last *time.Time
	for _, p := range ch.Paragraphs {
		r, ok := m.records[recordKey(ownerID, ch.TopicID, p.ID)]
		if !ok || !r.IsRead {
			continue
		}
		read++
		if r.ReadAt != nil && (last == nil || r.ReadAt.After(*last)) {
			last = r.ReadAt
		}
	}
	return read, last
}

func (m *MockProgressStore) write(ctx context.Context, record *domain.ReadingRecord, apply func(existing *domain.ReadingRecord) *domain.ReadingRecord) (domain.ChapterTally, error) {
	ch, _, err := m.chapter(ctx, record)
	if err != nil {
		return domain.ChapterTally{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := domain.ChapterTally{ChapterID: ch.ID, Total: len(ch.Paragraphs)}
	t.ReadBefore, _ = m.tally(record.OwnerID, ch)

	key := recordKey(record.OwnerID, record.TopicID, record.ParagraphID)
	if next := apply(m.records[key]); next != nil {
		next.UpdatedAt = time.Now()
		m.records[key] = next
	}

	var last *time.Time
	t.ReadAfter, last = m.tally(record.OwnerID, ch)
	if t.Complete() {
		t.CompletedAt = last
	}
	return t, nil
}

func (m *MockProgressStore) MarkRead(ctx context.Context, record *domain.ReadingRecord) (domain.ChapterTally, error) {
	if m.MarkReadFn != nil {
		if err := m.MarkReadFn(record); err != nil {
			return domain.ChapterTally{}, err
		}
	}
	return m.write(ctx, record, func(existing *domain.ReadingRecord) *domain.ReadingRecord {
		next := *record
		next.IsRead = true
		if existing != nil {
			next.ReadingMs = existing.ReadingMs
		}
		return &next
	})
}

func (m *MockProgressStore) MarkUnread(ctx context.Context, record *domain.ReadingRecord) (domain.ChapterTally, error) {
	return m.write(ctx, record, func(existing *domain.ReadingRecord) *domain.ReadingRecord {
		if existing == nil {
			return nil
		}
		next := *existing
		next.IsRead = false
		next.ReadAt = nil
		return &next
	})
}

func (m *MockProgressStore) ListRecords(ctx context.Context, ownerID, topicID string) ([]*domain.ReadingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ReadingRecord
	for _, r := range m.records {
		if r.OwnerID == ownerID && r.TopicID == topicID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockProgressStore) AddReadingTime(ctx context.Context, record *domain.ReadingRecord) error {
	_, err := m.write(ctx, record, func(existing *domain.ReadingRecord) *domain.ReadingRecord {
		if existing == nil {
			next := *record
			next.IsRead = false
			next.ReadAt = nil
			return &next
		}
		next := *existing
		next.ReadingMs += record.ReadingMs
		return &next
	})
	return err
}

func (m *MockProgressStore) DeleteOrphans(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, r := range m.records {
		if _, err := m.outlines.GetParagraph(ctx, r.ParagraphID); err != nil {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

// Put stores a record as-is, bypassing reference checks (test setup)
func (m *MockProgressStore) Put(record *domain.ReadingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[recordKey(record.OwnerID, record.TopicID, record.ParagraphID)] = &cp
}

// Count returns the number of stored records
func (m *MockProgressStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MockProgressStore) deleteTopic(topicID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, r := range m.records {
		if r.TopicID == topicID {
			delete(m.records, key)
		}
	}
}
