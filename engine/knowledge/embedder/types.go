package embedder

import (
	"context"
	"time"
)

// Embedder produces fixed-dimension vectors for passages and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Provider identifies an embedding backend.
type Provider string

const (
	// ProviderTEI pools per-token vectors returned by a text-embeddings-inference server.
	ProviderTEI    Provider = "tei"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

const (
	DefaultModel       = "intfloat/e5-base-v2"
	DefaultDimension   = 768
	DefaultInputPrefix = "passage: "
	DefaultBatchSize   = 32
)

// Config describes how to reach and use an embedding model.
type Config struct {
	Provider Provider
	Model    string
	Endpoint string
	APIKey   string
	// Dimension is the expected vector length; mismatching responses are rejected.
	Dimension int
	// InputPrefix is prepended to every passage and query before inference.
	InputPrefix string
	// BatchSize bounds the number of texts sent per inference request.
	BatchSize int
	// CacheSize enables an LRU of query embeddings when positive.
	CacheSize int
	// Serialize forces one inference call at a time for runtimes that are
	// not safe for concurrent use.
	Serialize bool
	Timeout   time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Provider == "" {
		out.Provider = ProviderTEI
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Dimension <= 0 {
		out.Dimension = DefaultDimension
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.Timeout <= 0 {
		out.Timeout = 60 * time.Second
	}
	return out
}
