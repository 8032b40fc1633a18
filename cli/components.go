package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/pagewise/pagewise/engine/knowledge/audit"
	"github.com/pagewise/pagewise/engine/knowledge/chunk"
	"github.com/pagewise/pagewise/engine/knowledge/embedder"
	"github.com/pagewise/pagewise/engine/knowledge/generator"
	"github.com/pagewise/pagewise/engine/knowledge/ingest"
	"github.com/pagewise/pagewise/engine/knowledge/retriever"
	"github.com/pagewise/pagewise/engine/knowledge/sink"
	"github.com/pagewise/pagewise/engine/knowledge/vectordb"
	"github.com/pagewise/pagewise/pkg/config"
	"github.com/pagewise/pagewise/pkg/logger"
)

// Constructors are variables so command tests can run without model servers.
var (
	newTokenizer = buildTokenizer
	newEmbedder = func(_ context.Context, cfg *config.Config) (embedder.Embedder, error) {
		return embedder.New(embedder.ConfigFromApp(cfg))
	}
	newGenerator = func(_ context.Context, cfg *config.Config) (generator.Generator, error) {
		return generator.NewClient(generator.ConfigFromApp(cfg))
	}
	newRedisClient = func(cfg *config.Config) redis.UniversalClient {
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
	}
)

// buildTokenizer counts tokens the way the embedding model does: a TEI
// server tokenizes with its own model, other providers use tiktoken.
func buildTokenizer(cfg *config.Config) (chunk.Tokenizer, error) {
	if embedder.Provider(strings.ToLower(cfg.Embedder.Provider)) == embedder.ProviderTEI {
		return chunk.NewTEITokenizer(cfg.Embedder.Endpoint, cfg.Embedder.APIKey.Value(), cfg.Embedder.Timeout)
	}
	return chunk.NewTiktokenTokenizer(cfg.Chunking.Encoding)
}

// inputBudget is implemented by tokenizers that know the model's input limit.
type inputBudget interface {
	Overhead(ctx context.Context, prefix string) (int, error)
	MaxInputLength(ctx context.Context) (int, error)
}

// chunkSettings returns the configured windows, shrunk when the tokenizer
// reports that a full window plus prefix and special tokens would not fit.
func chunkSettings(ctx context.Context, cfg *config.Config, tokenizer chunk.Tokenizer) (chunk.Settings, error) {
	settings := chunk.Settings{MaxLength: cfg.Chunking.MaxLength, Stride: cfg.Chunking.Stride}
	budget, ok := tokenizer.(inputBudget)
	if !ok {
		return settings, nil
	}
	maxInput, err := budget.MaxInputLength(ctx)
	if err != nil {
		return settings, fmt.Errorf("failed to read model input limit: %w", err)
	}
	overhead, err := budget.Overhead(ctx, cfg.Embedder.InputPrefix)
	if err != nil {
		return settings, fmt.Errorf("failed to count input prefix tokens: %w", err)
	}
	fitted, err := chunk.FitSettings(settings, maxInput, overhead)
	if err != nil {
		return settings, err
	}
	if fitted != settings {
		logger.FromContext(ctx).Warn(
			"Chunk windows shrunk to fit the embedding model input",
			"max_length", fitted.MaxLength,
			"stride", fitted.Stride,
			"model_max_input", maxInput,
			"overhead", overhead,
		)
	}
	return fitted, nil
}

// components holds the collaborators built for one command run.
type components struct {
	cfg      *config.Config
	embedder embedder.Embedder
	store    vectordb.Store
	redis    redis.UniversalClient
	closers  []func(context.Context) error
}

func (c *components) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// Close releases everything in reverse construction order.
func (c *components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}

// buildComponents creates the embedder and vector store shared by ingestion
// and retrieval.
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{cfg: cfg}
	emb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	c.embedder = emb
	store, err := vectordb.New(ctx, vectordb.ConfigFromApp(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	c.store = store
	c.onClose(store.Close)
	return c, nil
}

// redisClient lazily opens the shared Redis connection.
func (c *components) redisClient() redis.UniversalClient {
	if c.redis == nil {
		c.redis = newRedisClient(c.cfg)
		client := c.redis
		c.onClose(func(context.Context) error { return client.Close() })
	}
	return c.redis
}

func (c *components) redisKey(parts ...string) string {
	prefix := strings.TrimSuffix(c.cfg.Redis.Prefix, ":")
	if prefix == "" {
		return strings.Join(parts, ":")
	}
	return prefix + ":" + strings.Join(parts, ":")
}

const auditProviderRedis = "redis"

func (c *components) auditLog() audit.Log {
	if c.cfg.Audit.Provider == auditProviderRedis {
		return audit.NewRedisLog(c.redisClient(), c.redisKey("audit", "sink_gaps"))
	}
	return audit.NewMemoryLog()
}

func (c *components) pipeline(ctx context.Context, replace bool) (*ingest.Pipeline, error) {
	tokenizer, err := newTokenizer(c.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	settings, err := chunkSettings(ctx, c.cfg, tokenizer)
	if err != nil {
		return nil, err
	}
	chunker, err := chunk.NewChunker(tokenizer, settings)
	if err != nil {
		return nil, err
	}
	opts := ingest.Options{
		BatchSize:    c.cfg.Ingest.BatchSize,
		Workers:      c.cfg.Ingest.Workers,
		IDStrategy:   ingest.IDStrategy(c.cfg.Ingest.IDStrategy),
		MarkerPrefix: c.cfg.Ingest.MarkerPrefix,
		MarkerValue:  float32(c.cfg.Ingest.MarkerValue),
		Model:        c.cfg.Embedder.Model,
		Audit:        c.auditLog(),
		Replace:      replace,
	}
	if c.cfg.Ingest.ClaimEnabled {
		opts.Claimer = ingest.NewRedisClaimer(c.redisClient(), c.redisKey("claim")+":", c.cfg.Ingest.ClaimTTL)
	}
	metaSink, err := sink.New(ctx, sink.ConfigFromApp(c.cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata sink: %w", err)
	}
	if metaSink != nil {
		opts.Sink = metaSink
		c.onClose(metaSink.Close)
	}
	logger.FromContext(ctx).Debug(
		"Ingestion pipeline configured",
		"vector_db", c.cfg.VectorDB.Provider,
		"embedder", c.cfg.Embedder.Provider,
		"sink", c.cfg.Sink.Provider,
		"claim", c.cfg.Ingest.ClaimEnabled,
	)
	return ingest.NewPipeline(chunker, c.embedder, c.store, opts)
}

func (c *components) retriever(ctx context.Context) (*retriever.Service, error) {
	gen, err := newGenerator(ctx, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	return retriever.NewService(c.embedder, c.store, gen)
}
