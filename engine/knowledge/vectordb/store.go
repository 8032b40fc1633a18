package vectordb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pagewise/pagewise/engine/knowledge"
)

const (
	defaultTopK    = 5
	defaultTimeout = 30 * time.Second
)

var (
	errMissingProvider  = errors.New("vector_db provider is required")
	errMissingDSN       = errors.New("vector_db dsn is required")
	errMissingEndpoint  = errors.New("vector_db endpoint is required")
	errMissingIndex     = errors.New("vector_db index is required")
	errMissingPath      = errors.New("vector_db path is required")
	errInvalidDimension = errors.New("vector_db dimension must be greater than zero")
)

// New instantiates a vector store backed by the requested provider. Every
// returned store wraps backend failures with knowledge.ErrStore.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, knowledge.Wrap(knowledge.ErrValidation, "vectordb.new", err)
	}
	store, err := instantiateStore(ctx, cfg)
	if err != nil {
		return nil, knowledge.Wrap(knowledge.ErrStore, "vectordb.new", err)
	}
	return instrument(cfg.Provider, store), nil
}

func instantiateStore(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Provider {
	case ProviderMemory:
		return newMemoryStore(cfg), nil
	case ProviderFilesystem:
		return newFileStore(cfg)
	case ProviderPGVector:
		return newPGStore(ctx, cfg)
	case ProviderQdrant:
		return newQdrantStore(ctx, cfg)
	case ProviderRedis:
		return newRedisStore(ctx, cfg)
	case ProviderPinecone:
		return newPineconeStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("vector_db provider %q is not supported", cfg.Provider)
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("vector_db config is required")
	}
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Path = strings.TrimSpace(cfg.Path)
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	switch cfg.Provider {
	case ProviderPGVector, ProviderRedis:
		if cfg.DSN == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, errMissingDSN)
		}
	case ProviderQdrant:
		if cfg.Endpoint == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, errMissingEndpoint)
		}
		if strings.TrimSpace(cfg.Index) == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, errMissingIndex)
		}
	case ProviderPinecone:
		if cfg.Endpoint == "" && strings.TrimSpace(cfg.Index) == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, errMissingIndex)
		}
	case ProviderFilesystem:
		if cfg.Path == "" {
			return fmt.Errorf("%s: %w", cfg.Provider, errMissingPath)
		}
	}
	if cfg.Dimension <= 0 {
		return errInvalidDimension
	}
	if cfg.MaxTopK < 0 {
		return fmt.Errorf("vector_db max_top_k must be non-negative")
	}
	return nil
}

func checkDimension(provider Provider, id string, got, want int) error {
	if got == want {
		return nil
	}
	if id == "" {
		return knowledge.Invalid(
			string(provider),
			"query dimension mismatch (got %d want %d)",
			got,
			want,
		)
	}
	return knowledge.Invalid(
		string(provider),
		"record %q dimension mismatch (got %d want %d)",
		id,
		got,
		want,
	)
}

func resolveTopK(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	return topK
}

func resolveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultTimeout
	}
	return timeout
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func metadataMatches(metadata map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		value, ok := metadata[key]
		if !ok || fmt.Sprint(value) != want {
			return false
		}
	}
	return true
}

func cloneMetadata(src map[string]any) map[string]any {
	if src == nil {
		return make(map[string]any)
	}
	return maps.Clone(src)
}

func matchText(text string, metadata map[string]any) string {
	if text != "" {
		return text
	}
	if raw, ok := metadata["text"].(string); ok {
		return raw
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
