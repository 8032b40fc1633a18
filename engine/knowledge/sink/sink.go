package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/engine/knowledge/chunk"
)

// Record is the metadata row reported for one chunk of an ingested file.
// VectorID stays nil because random vector ids are not tracked per chunk.
type Record struct {
	FileHash    string  `json:"file_hash"`
	ChunkText   string  `json:"chunk_text"`
	ChunkNumber int     `json:"chunk_number"`
	VectorID    *string `json:"vector_id"`
	ModelUsed   string  `json:"model_used"`
}

// Sink persists chunk metadata outside the vector store.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}

// Provider identifies a sink backend.
type Provider string

const (
	ProviderNone     Provider = "none"
	ProviderHTTP     Provider = "http"
	ProviderPostgres Provider = "postgres"
)

const (
	DefaultTable   = "text_chunks"
	defaultTimeout = 10 * time.Second
)

type Config struct {
	Provider Provider
	URL      string
	DSN      string
	Table    string
	Timeout  time.Duration
}

// New builds the configured sink. The "none" provider yields a nil Sink and
// no error; callers skip reporting in that case.
func New(ctx context.Context, cfg *Config) (Sink, error) {
	if cfg == nil {
		return nil, errors.New("sink config is required")
	}
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case "", ProviderNone:
		return nil, nil
	case ProviderHTTP:
		s, err := NewHTTPSink(cfg.URL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ProviderPostgres:
		s, err := NewPostgresSink(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("sink: provider %q is not supported", cfg.Provider)
	}
}

// Records builds one sink record per chunk, numbered by chunk index.
func Records(fileID, model string, chunks []chunk.Chunk) []Record {
	out := make([]Record, len(chunks))
	for i := range chunks {
		out[i] = Record{
			FileHash:    fileID,
			ChunkText:   chunks[i].Text,
			ChunkNumber: chunks[i].Index,
			ModelUsed:   model,
		}
	}
	return out
}

// Deliver writes records one at a time and stops at the first rejection. It
// returns the number of records accepted before that point.
func Deliver(ctx context.Context, s Sink, records []Record) (int, error) {
	for i := range records {
		if err := ctx.Err(); err != nil {
			return i, knowledge.Wrap(knowledge.ErrSink, "deliver", err)
		}
		if err := s.Write(ctx, records[i]); err != nil {
			op := fmt.Sprintf("chunk %d of %s", records[i].ChunkNumber, records[i].FileHash)
			return i, knowledge.Wrap(knowledge.ErrSink, op, err)
		}
	}
	return len(records), nil
}
