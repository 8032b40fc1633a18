package vectordb

import (
	"context"
	"time"
)

// Provider enumerates supported vector database backends.
type Provider string

const (
	ProviderMemory   Provider = "memory"
	ProviderPGVector Provider = "pgvector"
	ProviderQdrant   Provider = "qdrant"
	ProviderRedis    Provider = "redis"
	ProviderPinecone Provider = "pinecone"
	// ProviderFilesystem persists embeddings to a local JSON snapshot.
	ProviderFilesystem Provider = "filesystem"
)

// Record represents a chunk persisted to the vector store.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution. An empty Namespace
// selects the store's configured namespace.
type SearchOptions struct {
	TopK      int
	MinScore  float64
	Filters   map[string]string
	Namespace string
}

// Match captures a similarity search result. Stores return matches sorted by
// descending score.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Filter specifies delete criteria.
type Filter struct {
	IDs      []string
	Metadata map[string]string
}

// Store exposes the contract shared by ingestion and retrieval.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	// Fetch returns the subset of ids present in the store.
	Fetch(ctx context.Context, ids []string) ([]string, error)
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector database.
type Config struct {
	Provider Provider
	// Index names the collection, table or index holding the vectors.
	Index       string
	Namespace   string
	Endpoint    string
	DSN         string
	Path        string
	Table       string
	APIKey      string
	Metric      string
	Dimension   int
	EnsureIndex bool
	Timeout     time.Duration
	MaxTopK     int
}
