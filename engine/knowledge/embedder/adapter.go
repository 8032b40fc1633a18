package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/pkg/logger"
)

// Adapter wraps a langchaingo embedder for providers that pool server side.
type Adapter struct {
	provider  Provider
	model     string
	prefix    string
	dimension int
	impl      embeddings.Embedder
	cache     *lru.Cache[string, []float32]
}

var (
	errMissingModel     = errors.New("embedder model is required")
	errInvalidDimension = errors.New("embedder dimension must be greater than zero")
)

// NewAdapter constructs a provider-backed embedder adapter.
func NewAdapter(cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	resolved := cfg.withDefaults()
	if err := validateConfig(&resolved); err != nil {
		return nil, err
	}
	options := []embeddings.Option{
		embeddings.WithBatchSize(resolved.BatchSize),
		embeddings.WithStripNewLines(false),
	}
	impl, err := buildProviderEmbedder(&resolved, options...)
	if err != nil {
		return nil, err
	}
	return WrapEmbedder(&resolved, impl)
}

// WrapEmbedder constructs an adapter around an existing langchaingo embedder.
func WrapEmbedder(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, fmt.Errorf("embedder %q: implementation is required", cfg.Model)
	}
	resolved := cfg.withDefaults()
	if err := validateConfig(&resolved); err != nil {
		return nil, err
	}
	a := &Adapter{
		provider:  resolved.Provider,
		model:     resolved.Model,
		prefix:    resolved.InputPrefix,
		dimension: resolved.Dimension,
		impl:      impl,
	}
	if resolved.CacheSize > 0 {
		cache, err := lru.New[string, []float32](resolved.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedder %q: init cache: %w", a.model, err)
		}
		a.cache = cache
	}
	return a, nil
}

func (a *Adapter) Dimension() int {
	return a.dimension
}

// EmbedDocuments delegates to the provider with contextual errors.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	vectors, err := a.impl.EmbedDocuments(ctx, a.prefixed(texts))
	if err != nil {
		return nil, a.withContext(err)
	}
	if err := a.checkVectors(vectors, len(texts)); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug(
		"Embedded documents",
		"provider", a.provider,
		"model", a.model,
		"count", len(texts),
		"elapsed", time.Since(start),
	)
	return vectors, nil
}

// EmbedQuery embeds a query, consulting the cache when enabled.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if a.cache != nil {
		if vector, ok := a.cache.Get(key); ok {
			return cloneVector(vector), nil
		}
	}
	vectors, err := a.impl.EmbedDocuments(ctx, a.prefixed([]string{text}))
	if err != nil {
		return nil, a.withContext(err)
	}
	if err := a.checkVectors(vectors, 1); err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Add(key, cloneVector(vectors[0]))
	}
	return vectors[0], nil
}

func (a *Adapter) prefixed(texts []string) []string {
	if a.prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i := range texts {
		out[i] = a.prefix + texts[i]
	}
	return out
}

func (a *Adapter) checkVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return a.withContext(fmt.Errorf("received %d embeddings for %d texts", len(vectors), want))
	}
	for i := range vectors {
		if len(vectors[i]) != a.dimension {
			op := fmt.Sprintf("embedder %q", a.model)
			return knowledge.Invalid(op, "vector %d has dimension %d, expected %d", i, len(vectors[i]), a.dimension)
		}
	}
	return nil
}

// withContext classifies provider failures as retryable embedding errors.
func (a *Adapter) withContext(err error) error {
	return knowledge.Wrap(knowledge.ErrEmbedding, fmt.Sprintf("embedder %q", a.model), err)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Model) == "" {
		return errMissingModel
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("embedder %q: %w", cfg.Model, errInvalidDimension)
	}
	return nil
}

func buildProviderEmbedder(cfg *Config, options ...embeddings.Option) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return buildOpenAIEmbedder(cfg, options...)
	case ProviderOllama:
		return buildOllamaEmbedder(cfg, options...)
	default:
		return nil, fmt.Errorf("embedder %q: provider %q is not supported", cfg.Model, cfg.Provider)
	}
}

func buildOpenAIEmbedder(cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	openaiOpts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.APIKey != "" {
		openaiOpts = append(openaiOpts, openai.WithToken(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.Endpoint))
	}
	client, err := openai.New(openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize openai client: %w", cfg.Model, err)
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct openai embedder: %w", cfg.Model, err)
	}
	return embedder, nil
}

func buildOllamaEmbedder(cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	ollamaOpts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.Endpoint != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithServerURL(cfg.Endpoint))
	}
	client, err := ollama.New(ollamaOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to initialize ollama client: %w", cfg.Model, err)
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: failed to construct ollama embedder: %w", cfg.Model, err)
	}
	return embedder, nil
}
