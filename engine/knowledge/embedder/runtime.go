package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/pkg/logger"
)

// Runtime embeds text by pooling the token vectors of a TokenEncoder. The
// model is loaded on first use and shared by every caller for the life of
// the process.
type Runtime struct {
	cfg     Config
	encoder TokenEncoder

	loadMu sync.Mutex
	loaded bool

	inferMu sync.Mutex
	cache   *lru.Cache[string, []float32]
}

// NewRuntime binds an encoder to cfg. No network call happens until the
// first Init or embedding request.
func NewRuntime(cfg *Config, encoder TokenEncoder) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if encoder == nil {
		return nil, errors.New("embedder: token encoder is required")
	}
	resolved := cfg.withDefaults()
	r := &Runtime{cfg: resolved, encoder: encoder}
	if resolved.CacheSize > 0 {
		cache, err := lru.New[string, []float32](resolved.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("embedder: init cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

func (r *Runtime) Dimension() int {
	return r.cfg.Dimension
}

// Init loads the model once. Failed loads are not remembered, so a later
// call retries. Errors match knowledge.ErrModelLoad.
func (r *Runtime) Init(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.loaded {
		return nil
	}
	start := time.Now()
	if err := r.encoder.Load(ctx); err != nil {
		return knowledge.Wrap(knowledge.ErrModelLoad, fmt.Sprintf("embedder %q", r.cfg.Model), err)
	}
	r.loaded = true
	logger.FromContext(ctx).Info("Embedding model ready", "model", r.cfg.Model, "elapsed", time.Since(start))
	return nil
}

// EmbedDocuments returns one pooled vector per text, in order.
func (r *Runtime) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(texts))
		vectors, err := r.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single query through the same pooling path as passages.
func (r *Runtime) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.cache != nil {
		if vec, ok := r.cache.Get(text); ok {
			return cloneVector(vec), nil
		}
	}
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	vectors, err := r.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Add(text, cloneVector(vectors[0]))
	}
	return vectors[0], nil
}

func (r *Runtime) embed(ctx context.Context, texts []string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = r.cfg.InputPrefix + text
	}
	if r.cfg.Serialize {
		r.inferMu.Lock()
		defer r.inferMu.Unlock()
	}
	op := fmt.Sprintf("embedder %q", r.cfg.Model)
	batch, err := r.encoder.Encode(ctx, inputs)
	if err != nil {
		return nil, knowledge.Wrap(knowledge.ErrEmbedding, op, err)
	}
	vectors, err := PoolBatch(batch.Vectors, batch.Mask)
	if err != nil {
		return nil, knowledge.Wrap(knowledge.ErrEmbedding, op, err)
	}
	if len(vectors) != len(texts) {
		return nil, knowledge.Wrap(
			knowledge.ErrEmbedding, op,
			fmt.Errorf("received %d embeddings for %d texts", len(vectors), len(texts)),
		)
	}
	for i := range vectors {
		if len(vectors[i]) != r.cfg.Dimension {
			return nil, knowledge.Invalid(op, "vector %d has dimension %d, expected %d", i, len(vectors[i]), r.cfg.Dimension)
		}
	}
	return vectors, nil
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
