package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Outline shape limits
const (
	DefaultMaxChapters      = 6
	MaxChaptersLimit        = 20
	MinParagraphsPerChapter = 2
	MaxParagraphsPerChapter = 8
	DefaultMaxWords         = 250

	// MinutesPerParagraph is the flat reading-time estimate per paragraph
	MinutesPerParagraph = 2
)

// OutlineOptions are the parameters an outline was generated with.
// They are persisted so the cache fingerprint can be rebuilt later.
type OutlineOptions struct {
	Difficulty       Difficulty `json:"difficulty"`
	MaxChapters      int        `json:"max_chapters"`
	Context          string     `json:"context,omitempty"`
	ExtraDescription string     `json:"extra_description,omitempty"`
}

// WithDefaults fills unset fields
func (o OutlineOptions) WithDefaults() OutlineOptions {
	o.Difficulty = o.Difficulty.OrDefault()
	if o.MaxChapters <= 0 {
		o.MaxChapters = DefaultMaxChapters
	}
	return o
}

// Validate rejects options no generator request should be built from
func (o OutlineOptions) Validate() error {
	if _, err := ParseDifficulty(string(o.Difficulty)); err != nil {
		return err
	}
	if o.MaxChapters < 1 || o.MaxChapters > MaxChaptersLimit {
		return fmt.Errorf("%w: max chapters must be between 1 and %d", ErrInvalidInput, MaxChaptersLimit)
	}
	return nil
}

// ParagraphOptions tune a single paragraph generation
type ParagraphOptions struct {
	Difficulty      Difficulty `json:"difficulty"`
	MaxWords        int        `json:"max_words"`
	IncludeExamples bool       `json:"include_examples"`
}

// WithDefaults fills unset fields
func (o ParagraphOptions) WithDefaults() ParagraphOptions {
	o.Difficulty = o.Difficulty.OrDefault()
	if o.MaxWords <= 0 {
		o.MaxWords = DefaultMaxWords
	}
	return o
}

// Outline is the chapter/paragraph skeleton of a topic.
type Outline struct {
	TopicID          string         `json:"topic_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Difficulty       Difficulty     `json:"difficulty"`
	EstimatedMinutes int            `json:"estimated_minutes"`
	TotalChapters    int            `json:"total_chapters"`
	TotalParagraphs  int            `json:"total_paragraphs"`
	Options          OutlineOptions `json:"generation_options"`
	ModelTag         string         `json:"model_tag"`
	CreatedAt        time.Time      `json:"created_at"`
	Chapters         []*Chapter     `json:"chapters"`
}

// ChapterMetadata is the free-form chapter metadata column
type ChapterMetadata struct {
	ParagraphCount   int `json:"paragraph_count"`
	EstimatedMinutes int `json:"estimated_minutes"`
}

// Chapter is an ordered child of an outline
type Chapter struct {
	ID          string          `json:"id"`
	TopicID     string          `json:"topic_id"`
	Index       int             `json:"index"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Metadata    ChapterMetadata `json:"metadata"`
	Paragraphs  []*Paragraph    `json:"paragraphs"`
}

// Paragraph is an ordered child of a chapter.
// Body is nil while the paragraph is a stub.
type Paragraph struct {
	ID        string
	ChapterID string
	TopicID   string
	Index     int
	Summary   string
	Metadata  map[string]string
	Body      *ParagraphBody
}

// ParagraphBody is the generated half of a paragraph
type ParagraphBody struct {
	Content     string
	GeneratedAt time.Time
}

// IsGenerated reports whether the paragraph has content
func (p *Paragraph) IsGenerated() bool {
	return p.Body != nil
}

// Content returns the generated body, or "" for a stub
func (p *Paragraph) Content() string {
	if p.Body == nil {
		return ""
	}
	return p.Body.Content
}

// Complete moves the paragraph from stub to generated.
func (p *Paragraph) Complete(gen *GeneratedParagraph, at time.Time) {
	p.Body = &ParagraphBody{Content: gen.Content, GeneratedAt: at}
	if s := strings.TrimSpace(gen.Summary); s != "" {
		p.Summary = s
	}
	if len(gen.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]string, len(gen.Metadata))
		}
		for k, v := range gen.Metadata {
			p.Metadata[k] = v
		}
	}
}

type paragraphJSON struct {
	ID          string            `json:"id"`
	ChapterID   string            `json:"chapter_id"`
	TopicID     string            `json:"topic_id"`
	Index       int               `json:"index"`
	Summary     string            `json:"summary"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Generated   bool              `json:"generated"`
	Content     *string           `json:"content"`
	GeneratedAt *time.Time        `json:"generated_at"`
}

// MarshalJSON flattens the stub/generated state into generated, content and generated_at
func (p Paragraph) MarshalJSON() ([]byte, error) {
	out := paragraphJSON{
		ID:        p.ID,
		ChapterID: p.ChapterID,
		TopicID:   p.TopicID,
		Index:     p.Index,
		Summary:   p.Summary,
		Metadata:  p.Metadata,
	}
	if p.Body != nil {
		content := p.Body.Content
		at := p.Body.GeneratedAt
		out.Generated = true
		out.Content = &content
		out.GeneratedAt = &at
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (p *Paragraph) UnmarshalJSON(data []byte) error {
	var in paragraphJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = Paragraph{
		ID:        in.ID,
		ChapterID: in.ChapterID,
		TopicID:   in.TopicID,
		Index:     in.Index,
		Summary:   in.Summary,
		Metadata:  in.Metadata,
	}
	if in.Generated && in.Content != nil {
		p.Body = &ParagraphBody{Content: *in.Content}
		if in.GeneratedAt != nil {
			p.Body.GeneratedAt = *in.GeneratedAt
		}
	}
	return nil
}

// Chapter returns the chapter with the given id, or nil
func (o *Outline) Chapter(id string) *Chapter {
	for _, ch := range o.Chapters {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

// Paragraph returns the paragraph with the given id and its chapter
func (o *Outline) Paragraph(id string) (*Chapter, *Paragraph) {
	for _, ch := range o.Chapters {
		for _, p := range ch.Paragraphs {
			if p.ID == id {
				return ch, p
			}
		}
	}
	return nil, nil
}

// NextParagraph returns the paragraph after id in reading order, or nil at the end.
func (o *Outline) NextParagraph(id string) (*Chapter, *Paragraph) {
	found := false
	for _, ch := range o.Chapters {
		for _, p := range ch.Paragraphs {
			if found {
				return ch, p
			}
			if p.ID == id {
				found = true
			}
		}
	}
	return nil, nil
}

// CheckInvariants verifies contiguous 1-based indices and that every
// paragraph is either a stub or fully generated.
func (o *Outline) CheckInvariants() error {
	total := 0
	for i, ch := range o.Chapters {
		if ch.Index != i+1 {
			return fmt.Errorf("chapter %s: index %d, want %d", ch.ID, ch.Index, i+1)
		}
		for j, p := range ch.Paragraphs {
			if p.Index != j+1 {
				return fmt.Errorf("paragraph %s: index %d, want %d", p.ID, p.Index, j+1)
			}
			if p.Body != nil && (p.Body.Content == "" || p.Body.GeneratedAt.IsZero()) {
				return fmt.Errorf("paragraph %s: generated without content or timestamp", p.ID)
			}
			total++
		}
	}
	if o.TotalChapters != len(o.Chapters) || o.TotalParagraphs != total {
		return fmt.Errorf("outline %s: declared %d/%d, found %d/%d",
			o.TopicID, o.TotalChapters, o.TotalParagraphs, len(o.Chapters), total)
	}
	return nil
}

// Clone returns a deep copy
func (o *Outline) Clone() *Outline {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Chapters = make([]*Chapter, len(o.Chapters))
	for i, ch := range o.Chapters {
		c := *ch
		c.Paragraphs = make([]*Paragraph, len(ch.Paragraphs))
		for j, p := range ch.Paragraphs {
			pc := *p
			if p.Metadata != nil {
				pc.Metadata = make(map[string]string, len(p.Metadata))
				for k, v := range p.Metadata {
					pc.Metadata[k] = v
				}
			}
			if p.Body != nil {
				b := *p.Body
				pc.Body = &b
			}
			c.Paragraphs[j] = &pc
		}
		cp.Chapters[i] = &c
	}
	return &cp
}

// GeneratedOutline is the structured output of the content generator
type GeneratedOutline struct {
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	EstimatedMinutes int                `json:"estimated_minutes,omitempty"`
	Chapters         []GeneratedChapter `json:"chapters"`
}

// GeneratedChapter is one chapter of a generated outline
type GeneratedChapter struct {
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	EstimatedMinutes int             `json:"estimated_minutes,omitempty"`
	Paragraphs       []GeneratedStub `json:"paragraphs"`
}

// GeneratedStub is the pre-summary of a paragraph produced at outline time
type GeneratedStub struct {
	Summary string `json:"summary"`
}

// Validate checks the outline against the pedagogical shape.
// Nothing is coerced: any deviation is a ValidationError.
func (g *GeneratedOutline) Validate(maxChapters int) error {
	if g == nil {
		return invalid("outline", "empty response")
	}
	if strings.TrimSpace(g.Title) == "" {
		return invalid("title", "required")
	}
	if n := len(g.Chapters); n < 1 || n > maxChapters {
		return invalid("chapters", "got %d, want 1-%d", n, maxChapters)
	}
	for i, ch := range g.Chapters {
		field := fmt.Sprintf("chapters[%d]", i)
		if strings.TrimSpace(ch.Title) == "" {
			return invalid(field+".title", "required")
		}
		if n := len(ch.Paragraphs); n < MinParagraphsPerChapter || n > MaxParagraphsPerChapter {
			return invalid(field+".paragraphs", "got %d, want %d-%d",
				n, MinParagraphsPerChapter, MaxParagraphsPerChapter)
		}
		for j, p := range ch.Paragraphs {
			if strings.TrimSpace(p.Summary) == "" {
				return invalid(fmt.Sprintf("%s.paragraphs[%d].summary", field, j), "required")
			}
		}
	}
	return nil
}

// BuildOutline turns validated generator output into a stub-only outline.
// Chapter and paragraph indices follow the generator's order.
func BuildOutline(topicID string, g *GeneratedOutline, opts OutlineOptions, modelTag string) *Outline {
	o := &Outline{
		TopicID:     topicID,
		Title:       strings.TrimSpace(g.Title),
		Description: strings.TrimSpace(g.Description),
		Difficulty:  opts.Difficulty.OrDefault(),
		Options:     opts,
		ModelTag:    modelTag,
		CreatedAt:   time.Now().UTC(),
		Chapters:    make([]*Chapter, 0, len(g.Chapters)),
	}

	for i, gc := range g.Chapters {
		ch := &Chapter{
			ID:          NewEntityID(),
			TopicID:     topicID,
			Index:       i + 1,
			Title:       strings.TrimSpace(gc.Title),
			Description: strings.TrimSpace(gc.Description),
			Paragraphs:  make([]*Paragraph, 0, len(gc.Paragraphs)),
		}
		for j, gp := range gc.Paragraphs {
			ch.Paragraphs = append(ch.Paragraphs, &Paragraph{
				ID:        NewEntityID(),
				ChapterID: ch.ID,
				TopicID:   topicID,
				Index:     j + 1,
				Summary:   strings.TrimSpace(gp.Summary),
			})
		}
		minutes := gc.EstimatedMinutes
		if minutes <= 0 {
			minutes = len(ch.Paragraphs) * MinutesPerParagraph
		}
		ch.Metadata = ChapterMetadata{ParagraphCount: len(ch.Paragraphs), EstimatedMinutes: minutes}

		o.Chapters = append(o.Chapters, ch)
		o.TotalParagraphs += len(ch.Paragraphs)
		o.EstimatedMinutes += minutes
	}
	o.TotalChapters = len(o.Chapters)
	if g.EstimatedMinutes > 0 {
		o.EstimatedMinutes = g.EstimatedMinutes
	}
	return o
}

// GeneratedParagraph is the output of a single paragraph generation
type GeneratedParagraph struct {
	Content  string            `json:"content"`
	Summary  string            `json:"summary,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate rejects empty bodies
func (g *GeneratedParagraph) Validate() error {
	if g == nil || strings.TrimSpace(g.Content) == "" {
		return invalid("content", "required")
	}
	return nil
}
