package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jetai "go.jetify.com/ai"
	jetapi "go.jetify.com/ai/api"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

const defaultMaxOutputTokens = 1024

// runner sends one prompt and returns the full response text.
// When prompt.OnChunk is set it also receives the text as it arrives.
type runner func(ctx context.Context, prompt driven.Prompt) (string, error)

// Generator implements ContentGenerator on top of a language model
type Generator struct {
	model string
	run   runner
}

var _ driven.ContentGenerator = (*Generator)(nil)

func newGenerator(model string, run runner) *Generator {
	return &Generator{model: model, run: run}
}

// GenerateOutline asks for a JSON outline and decodes it.
// Output that is not the expected JSON fails validation.
func (g *Generator) GenerateOutline(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedOutline, error) {
	raw, err := g.run(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out domain.GeneratedOutline
	if err := decodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateParagraph returns the response prose as the paragraph body
func (g *Generator) GenerateParagraph(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
	raw, err := g.run(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &domain.GeneratedParagraph{Content: strings.TrimSpace(raw)}, nil
}

func (g *Generator) Model() string {
	return g.model
}

// Ping only checks configuration; it does not spend tokens
func (g *Generator) Ping(ctx context.Context) error {
	if g.model == "" || g.run == nil {
		return fmt.Errorf("%w: generator not configured", domain.ErrServiceUnavailable)
	}
	return nil
}

// jetRunner adapts a jetify language model. Models that cannot stream
// deliver their whole answer as one chunk.
func jetRunner(model jetapi.LanguageModel, streams bool) runner {
	return func(ctx context.Context, prompt driven.Prompt) (string, error) {
		messages := promptMessages(prompt)
		maxTokens := prompt.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = defaultMaxOutputTokens
		}

		if prompt.OnChunk == nil || !streams {
			resp, err := jetai.GenerateText(ctx, messages, jetai.WithModel(model), jetai.WithMaxOutputTokens(maxTokens))
			if err != nil {
				return "", err
			}
			text, err := responseText(resp)
			if err != nil {
				return "", err
			}
			if prompt.OnChunk != nil {
				prompt.OnChunk(text)
			}
			return text, nil
		}

		stream, err := jetai.StreamText(ctx, messages, jetai.WithModel(model), jetai.WithMaxOutputTokens(maxTokens))
		if err != nil {
			return "", err
		}
		var full strings.Builder
		for event := range stream.Stream {
			switch evt := event.(type) {
			case *jetapi.TextDeltaEvent:
				if evt.TextDelta == "" {
					continue
				}
				full.WriteString(evt.TextDelta)
				prompt.OnChunk(evt.TextDelta)
			case *jetapi.ErrorEvent:
				if evt.Err == nil {
					return "", errors.New("stream returned an unknown error")
				}
				return "", fmt.Errorf("stream: %v", evt.Err)
			}
		}
		if strings.TrimSpace(full.String()) == "" {
			return "", errors.New("empty response from model")
		}
		return full.String(), nil
	}
}

func promptMessages(prompt driven.Prompt) []jetapi.Message {
	messages := make([]jetapi.Message, 0, 2)
	if strings.TrimSpace(prompt.System) != "" {
		messages = append(messages, &jetapi.SystemMessage{Content: prompt.System})
	}
	return append(messages, &jetapi.UserMessage{Content: jetapi.ContentFromText(prompt.User)})
}

func responseText(resp *jetapi.Response) (string, error) {
	if resp == nil {
		return "", errors.New("empty response from model")
	}
	var full strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.(*jetapi.TextBlock); ok {
			full.WriteString(text.Text)
		}
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", errors.New("empty response from model")
	}
	return full.String(), nil
}
