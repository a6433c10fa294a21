package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TopicOrigin records how a topic was requested
type TopicOrigin string

const (
	TopicOriginDirect TopicOrigin = "direct-topic"
	TopicOriginURL    TopicOrigin = "url"
	TopicOriginImage  TopicOrigin = "image"
)

// IsValid reports whether the origin is one of the known values
func (o TopicOrigin) IsValid() bool {
	switch o {
	case TopicOriginDirect, TopicOriginURL, TopicOriginImage:
		return true
	}
	return false
}

// Difficulty is the target reader level for generated content
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// DefaultDifficulty is used when a request does not name one
const DefaultDifficulty = DifficultyIntermediate

// ParseDifficulty normalizes a difficulty string.
// Empty input yields DefaultDifficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case "":
		return DefaultDifficulty, nil
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown difficulty %q", ErrInvalidInput, s)
}

// OrDefault returns d, or DefaultDifficulty when d is empty
func (d Difficulty) OrDefault() Difficulty {
	if d == "" {
		return DefaultDifficulty
	}
	return d
}

// Topic is a learning subject scoped to an owner
type Topic struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"owner_id"`
	Title         string      `json:"title"`
	Origin        TopicOrigin `json:"origin"`
	SourceLocator string      `json:"source_locator,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewTopic builds a topic whose ID is derived from (title, owner).
func NewTopic(title, ownerID string, origin TopicOrigin, sourceLocator string) (*Topic, error) {
	title = strings.TrimSpace(title)
	if NormalizeText(title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if origin == "" {
		origin = TopicOriginDirect
	}
	if !origin.IsValid() {
		return nil, fmt.Errorf("%w: unknown origin %q", ErrInvalidInput, origin)
	}

	now := time.Now().UTC()
	return &Topic{
		ID:            ResolveTopicID(title, ownerID),
		OwnerID:       ownerID,
		Title:         title,
		Origin:        origin,
		SourceLocator: strings.TrimSpace(sourceLocator),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// OwnedBy reports whether ownerID owns the topic
func (t *Topic) OwnedBy(ownerID string) bool {
	return t != nil && t.OwnerID == ownerID
}

// NormalizeText trims, lowercases, drops control characters and
// collapses internal whitespace runs to a single space.
func NormalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
