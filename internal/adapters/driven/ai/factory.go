package ai

import (
	"context"
	"fmt"
	"strings"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	openaiclient "github.com/openai/openai-go/v2"
	openaioption "github.com/openai/openai-go/v2/option"
	jetanthropic "go.jetify.com/ai/provider/anthropic"
	jetopenai "go.jetify.com/ai/provider/openai"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Provider identifies a generation backend
type Provider string

const (
	ProviderOpenAI           Provider = "openai"
	ProviderAnthropic        Provider = "anthropic"
	ProviderOpenAICompatible Provider = "openai-compatible"
)

// Default models per provider
const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
)

// Settings selects and authenticates a provider
type Settings struct {
	Provider Provider
	APIKey   string
	Model    string
	BaseURL  string
}

// IsConfigured reports whether a provider can be built from the settings
func (s *Settings) IsConfigured() bool {
	return s != nil && strings.TrimSpace(s.APIKey) != ""
}

// ParseProvider normalizes a configured provider name
func ParseProvider(raw string) (Provider, error) {
	p := strings.ToLower(strings.TrimSpace(raw))
	p = strings.ReplaceAll(p, "_", "-")
	switch Provider(p) {
	case "", ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	case ProviderOpenAICompatible, "openaicompatible":
		return ProviderOpenAICompatible, nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidProvider, raw)
	}
}

// Factory builds content generators from settings
type Factory struct{}

// NewFactory creates a new generator factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateGenerator builds the generator for settings. Without an API key
// it returns a generator that refuses every call, so read paths keep
// working on a deployment with no provider configured.
func (f *Factory) CreateGenerator(settings *Settings) (driven.ContentGenerator, error) {
	if !settings.IsConfigured() {
		return Unavailable{}, nil
	}

	provider, err := ParseProvider(string(settings.Provider))
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(settings.APIKey)
	modelID := strings.TrimSpace(settings.Model)
	baseURL := strings.TrimSpace(settings.BaseURL)

	switch provider {
	case ProviderAnthropic:
		if modelID == "" {
			modelID = defaultAnthropicModel
		}
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(apiKey),
			anthropicoption.WithMaxRetries(0),
		}
		if baseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(baseURL, "/")))
		}
		client := anthropicclient.NewClient(opts...)
		model := jetanthropic.NewLanguageModel(modelID, jetanthropic.WithClient(client))
		// chunked delivery degrades to a single chunk
		return newGenerator(modelID, jetRunner(model, false)), nil

	default:
		if modelID == "" {
			modelID = defaultOpenAIModel
		}
		if provider == ProviderOpenAICompatible && baseURL == "" {
			return nil, fmt.Errorf("%w: base url required for %s", domain.ErrInvalidInput, provider)
		}
		opts := []openaioption.RequestOption{
			openaioption.WithAPIKey(apiKey),
			openaioption.WithMaxRetries(0),
		}
		if normalized := normalizeOpenAIBaseURL(baseURL); normalized != "" {
			opts = append(opts, openaioption.WithBaseURL(normalized))
		}
		client := openaiclient.NewClient(opts...)
		model := jetopenai.NewLanguageModel(modelID, jetopenai.WithClient(client))
		return newGenerator(modelID, jetRunner(model, true)), nil
	}
}

// Unavailable is the generator of a deployment without a provider
type Unavailable struct{}

var _ driven.ContentGenerator = Unavailable{}

func (Unavailable) GenerateOutline(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedOutline, error) {
	return nil, fmt.Errorf("%w: no content generator configured", domain.ErrServiceUnavailable)
}

func (Unavailable) GenerateParagraph(ctx context.Context, prompt driven.Prompt) (*domain.GeneratedParagraph, error) {
	return nil, fmt.Errorf("%w: no content generator configured", domain.ErrServiceUnavailable)
}

func (Unavailable) Model() string { return "" }

func (Unavailable) Ping(ctx context.Context) error {
	return fmt.Errorf("%w: no content generator configured", domain.ErrServiceUnavailable)
}
