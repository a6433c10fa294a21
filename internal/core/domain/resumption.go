package domain

import "time"

// Recommendation is the suggested next step on re-entering a topic
type Recommendation string

const (
	RecommendExplore  Recommendation = "explore"
	RecommendContinue Recommendation = "continue"
	RecommendRestart  Recommendation = "restart"
)

// NextActionable points at the next paragraph to read
type NextActionable struct {
	ChapterID      string `json:"chapter_id"`
	ChapterIndex   int    `json:"chapter_index"`
	ParagraphID    string `json:"paragraph_id"`
	ParagraphIndex int    `json:"paragraph_index"`
	Generated      bool   `json:"generated"`
}

// ResumptionInfo summarizes progress through a topic
type ResumptionInfo struct {
	TopicID                   string          `json:"topic_id"`
	Recommendation            Recommendation  `json:"recommendation"`
	HasOutline                bool            `json:"has_outline"`
	TotalChapters             int             `json:"total_chapters"`
	CompletedChapters         int             `json:"completed_chapters"`
	TotalParagraphs           int             `json:"total_paragraphs"`
	ReadParagraphs            int             `json:"read_paragraphs"`
	PercentComplete           float64         `json:"percent_complete"`
	EstimatedMinutesRemaining int             `json:"estimated_minutes_remaining"`
	StaleReads                int             `json:"stale_reads"`
	LastReadAt                *time.Time      `json:"last_read_at,omitempty"`
	Next                      *NextActionable `json:"next,omitempty"`
}

// AnalyzeResumption derives a ResumptionInfo from an outline and the
// owner's reading records. A nil outline recommends explore.
func AnalyzeResumption(topicID string, o *Outline, records []*ReadingRecord) *ResumptionInfo {
	info := &ResumptionInfo{TopicID: topicID, Recommendation: RecommendExplore}
	if o == nil {
		return info
	}
	info.HasOutline = true
	info.TotalChapters = len(o.Chapters)

	read := ReadIndex(records)
	var last time.Time
	for _, ch := range o.Chapters {
		chRead := 0
		for _, p := range ch.Paragraphs {
			info.TotalParagraphs++
			r, ok := read[p.ID]
			if !ok {
				if info.Next == nil {
					info.Next = pointAt(ch, p)
				}
				continue
			}
			chRead++
			info.ReadParagraphs++
			if !r.MatchesContent(p) {
				info.StaleReads++
			}
			if r.ReadAt != nil && r.ReadAt.After(last) {
				last = *r.ReadAt
			}
		}
		if len(ch.Paragraphs) > 0 && chRead == len(ch.Paragraphs) {
			info.CompletedChapters++
		}
	}
	if !last.IsZero() {
		info.LastReadAt = &last
	}

	unread := info.TotalParagraphs - info.ReadParagraphs
	info.EstimatedMinutesRemaining = unread * MinutesPerParagraph
	if info.TotalParagraphs > 0 {
		info.PercentComplete = float64(info.ReadParagraphs) * 100 / float64(info.TotalParagraphs)
	}

	switch {
	case info.TotalParagraphs > 0 && unread == 0:
		info.Recommendation = RecommendRestart
		info.Next = firstParagraph(o)
	case info.ReadParagraphs > 0:
		info.Recommendation = RecommendContinue
	default:
		info.Recommendation = RecommendExplore
	}
	return info
}

func pointAt(ch *Chapter, p *Paragraph) *NextActionable {
	return &NextActionable{
		ChapterID:      ch.ID,
		ChapterIndex:   ch.Index,
		ParagraphID:    p.ID,
		ParagraphIndex: p.Index,
		Generated:      p.IsGenerated(),
	}
}

func firstParagraph(o *Outline) *NextActionable {
	for _, ch := range o.Chapters {
		if len(ch.Paragraphs) > 0 {
			return pointAt(ch, ch.Paragraphs[0])
		}
	}
	return nil
}
