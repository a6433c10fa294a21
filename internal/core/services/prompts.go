package services

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

const outlineSystemPrompt = `You design short courses. You answer with a single JSON object and nothing else.`

const paragraphSystemPrompt = `You write one paragraph of a short course at a time. Write plain prose, no headings, no lists.`

// outlineMaxTokens bounds the generator response for an outline
const outlineMaxTokens = 4096

func outlinePrompt(title string, opts domain.OutlineOptions) driven.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", title)
	fmt.Fprintf(&b, "Audience level: %s\n", opts.Difficulty.OrDefault())
	if opts.Context != "" {
		fmt.Fprintf(&b, "Learner context: %s\n", opts.Context)
	}
	if opts.ExtraDescription != "" {
		fmt.Fprintf(&b, "Additional notes: %s\n", opts.ExtraDescription)
	}
	fmt.Fprintf(&b, "\nProgress from fundamentals to application across at most %d chapters.\n", opts.MaxChapters)
	fmt.Fprintf(&b, "Each chapter has between %d and %d paragraphs.\n",
		domain.MinParagraphsPerChapter, domain.MaxParagraphsPerChapter)
	b.WriteString("Do not write the paragraphs. Give each one a one-sentence summary of what it will explain.\n\n")
	b.WriteString(`Respond with JSON of this shape:
{"title": string, "description": string, "estimated_minutes": number,
 "chapters": [{"title": string, "description": string, "estimated_minutes": number,
   "paragraphs": [{"summary": string}]}]}`)

	return driven.Prompt{
		System:          outlineSystemPrompt,
		User:            b.String(),
		MaxOutputTokens: outlineMaxTokens,
	}
}

type paragraphPromptInput struct {
	topicTitle string
	chapter    *domain.Chapter
	paragraph  *domain.Paragraph
	previous   *domain.Paragraph
	options    domain.ParagraphOptions
}

func paragraphPrompt(in paragraphPromptInput) driven.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n", in.topicTitle)
	fmt.Fprintf(&b, "Chapter %d: %s\n", in.chapter.Index, in.chapter.Title)
	if in.chapter.Description != "" {
		fmt.Fprintf(&b, "Chapter goal: %s\n", in.chapter.Description)
	}
	if in.previous != nil && in.previous.Summary != "" {
		fmt.Fprintf(&b, "The previous paragraph covered: %s\n", in.previous.Summary)
	}
	fmt.Fprintf(&b, "\nWrite paragraph %d. It explains: %s\n", in.paragraph.Index, in.paragraph.Summary)
	fmt.Fprintf(&b, "Audience level: %s. At most %d words.\n", in.options.Difficulty, in.options.MaxWords)
	if in.options.IncludeExamples {
		b.WriteString("Include one concrete example.\n")
	}

	return driven.Prompt{
		System: paragraphSystemPrompt,
		User:   b.String(),
		// roughly 1.5 tokens per word with headroom
		MaxOutputTokens: in.options.MaxWords*2 + 64,
	}
}
