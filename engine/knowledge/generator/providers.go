package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel creates the langchaingo model for cfg.Provider.
func NewModel(ctx context.Context, cfg *Config) (llms.Model, error) {
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI:
		return createOpenAIModel(cfg)
	case ProviderOllama:
		return createOllamaModel(cfg)
	case ProviderGoogleAI:
		return createGoogleModel(ctx, cfg)
	case ProviderAnthropic:
		return createAnthropicModel(cfg)
	case ProviderMock:
		return NewMockModel(cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func createOpenAIModel(cfg *Config) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}
	return openai.New(opts...)
}

func createOllamaModel(cfg *Config) (llms.Model, error) {
	opts := []ollama.Option{
		ollama.WithModel(cfg.Model),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
	}
	return ollama.New(opts...)
}

func createGoogleModel(ctx context.Context, cfg *Config) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithDefaultModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, googleai.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		return nil, fmt.Errorf("googleai does not support custom API URL")
	}
	return googleai.New(ctx, opts...)
}

func createAnthropicModel(cfg *Config) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		opts = append(opts, anthropic.WithToken(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
	}
	return anthropic.New(opts...)
}

// MockModel answers every prompt with a predictable echo.
type MockModel struct {
	model string
}

func NewMockModel(model string) *MockModel {
	return &MockModel{model: model}
}

func (m *MockModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	var prompt strings.Builder
	for _, message := range messages {
		for _, part := range message.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "Mock response for: " + prompt.String()}},
	}, nil
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}
