package domain

import (
	"crypto/sha256"
	"strconv"

	"github.com/google/uuid"
)

// topicNamespace scopes topic ids so they never collide with other
// name-based UUIDs derived from the same input.
var topicNamespace = uuid.MustParse("5b1f3c8e-2a47-4d0b-9c6e-8f2d7a1e4b93")

// ResolveTopicID derives the stable id of a (title, owner) pair.
//
// The title is normalized with NormalizeText, so "  Graph   Databases" and
// "graph databases" resolve to the same id for the same owner. The composite
// key is length-prefixed so no (title, owner) split can produce the same bytes
// as another. The SHA-256 digest is shaped into an RFC 9562 version 8 UUID.
func ResolveTopicID(title, ownerID string) string {
	return uuid.NewHash(sha256.New(), topicNamespace, topicKey(title, ownerID), 8).String()
}

func topicKey(title, ownerID string) []byte {
	norm := NormalizeText(title)
	key := make([]byte, 0, len(norm)+len(ownerID)+8)
	key = strconv.AppendInt(key, int64(len(norm)), 10)
	key = append(key, ':')
	key = append(key, norm...)
	key = append(key, '|')
	key = append(key, ownerID...)
	return key
}

// NewEntityID returns a random id for chapters, paragraphs and sessions
func NewEntityID() string {
	return uuid.NewString()
}
