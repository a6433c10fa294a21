package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentType distinguishes durable cache artifacts
type ContentType string

const (
	ContentTypeOutline   ContentType = "outline"
	ContentTypeParagraph ContentType = "paragraph"
)

// DefaultMaxAgeHours is the staleness threshold callers use when they
// do not pass one.
const DefaultMaxAgeHours = 168

// FingerprintInputs are the parameters of a generation request.
// Two requests with equal fingerprints may share one artifact.
type FingerprintInputs struct {
	Title      string     `json:"title"`
	Context    string     `json:"context"`
	Difficulty Difficulty `json:"difficulty"`
}

// Fingerprint returns normalize(title)||normalize(context)||difficulty
func (in FingerprintInputs) Fingerprint() string {
	return NormalizeText(in.Title) + "||" + NormalizeText(in.Context) + "||" + string(in.Difficulty.OrDefault())
}

// OutlineFingerprintInputs builds the inputs of an outline request.
// ExtraDescription is part of the request context. MaxChapters is not
// part of the key; callers check a hit's chapter count instead.
func OutlineFingerprintInputs(title string, opts OutlineOptions) FingerprintInputs {
	ctx := opts.Context
	if opts.ExtraDescription != "" {
		ctx += " " + opts.ExtraDescription
	}
	return FingerprintInputs{
		Title:      title,
		Context:    ctx,
		Difficulty: opts.Difficulty.OrDefault(),
	}
}

// ParagraphFingerprintInputs builds the inputs of a paragraph request
func ParagraphFingerprintInputs(topicTitle, chapterTitle, summary string, opts ParagraphOptions) FingerprintInputs {
	opts = opts.WithDefaults()
	return FingerprintInputs{
		Title:      topicTitle + " / " + chapterTitle + " / " + summary,
		Context:    fmt.Sprintf("words=%d examples=%t", opts.MaxWords, opts.IncludeExamples),
		Difficulty: opts.Difficulty,
	}
}

// CacheEntry is a durable-tier artifact keyed by fingerprint.
// The inputs are stored alongside so a fingerprint hit can be re-checked.
type CacheEntry struct {
	ID          int64             `json:"id"`
	TopicID     string            `json:"topic_id"`
	ContentType ContentType       `json:"content_type"`
	Fingerprint string            `json:"fingerprint"`
	Inputs      FingerprintInputs `json:"inputs"`
	Artifact    json.RawMessage   `json:"artifact"`
	ElapsedMs   int64             `json:"elapsed_ms"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Matches reports whether the entry was produced for the given inputs.
// Both the stored key and the stored inputs must agree.
func (e *CacheEntry) Matches(in FingerprintInputs) bool {
	want := in.Fingerprint()
	return e.Fingerprint == want && e.Inputs.Fingerprint() == want
}

// IsStale reports whether the entry is older than maxAge
func (e *CacheEntry) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.CreatedAt) > maxAge
}

// Staleness is the answer to a shouldRegenerate query
type Staleness struct {
	TopicID     string     `json:"topic_id"`
	Regenerate  bool       `json:"regenerate"`
	Reason      string     `json:"reason"`
	MaxAgeHours int        `json:"max_age_hours"`
	CachedAt    *time.Time `json:"cached_at,omitempty"`
}
