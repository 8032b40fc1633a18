package generator

import "context"

// Generator answers a question from retrieved context.
type Generator interface {
	Generate(ctx context.Context, question, context string) (string, error)
}

// Provider identifies a generation backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderGoogleAI  Provider = "googleai"
	ProviderAnthropic Provider = "anthropic"
	// ProviderMock echoes the prompt and needs no model server.
	ProviderMock Provider = "mock"
)

const (
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.7
)

type Config struct {
	Provider Provider
	Model    string
	Endpoint string
	APIKey   string
	// MaxTokens bounds the generated answer.
	MaxTokens   int
	Temperature float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.Temperature <= 0 {
		out.Temperature = DefaultTemperature
	}
	return out
}
