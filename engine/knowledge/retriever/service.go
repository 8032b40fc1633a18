package retriever

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/engine/knowledge/embedder"
	"github.com/pagewise/pagewise/engine/knowledge/generator"
	"github.com/pagewise/pagewise/engine/knowledge/vectordb"
	"github.com/pagewise/pagewise/pkg/logger"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.75
	// MaxContextMatches caps the matches that reach the prompt.
	MaxContextMatches = 3
	contextSeparator  = "\n\n"
)

// Options tunes a single query. Threshold is used as given, so callers that
// want the default should start from DefaultOptions.
type Options struct {
	TopK      int
	Threshold float64
	Filters   map[string]string
	Namespace string
}

func DefaultOptions() Options {
	return Options{TopK: DefaultTopK, Threshold: DefaultThreshold}
}

// Answer is the assembled retrieval context and, when generated, the answer.
type Answer struct {
	Query  string
	Answer string
	// Context is the kept match texts joined by a blank line.
	Context       string
	ContextChunks []string
	// FileID comes from the highest ranked kept match.
	FileID  string
	Matches []vectordb.Match
}

type Service struct {
	embedder  embedder.Embedder
	store     vectordb.Store
	generator generator.Generator
	tracer    trace.Tracer
}

// NewService wires the retrieval collaborators. gen may be nil when only
// Retrieve is used.
func NewService(emb embedder.Embedder, store vectordb.Store, gen generator.Generator) (*Service, error) {
	if emb == nil {
		return nil, errors.New("knowledge: retriever embedder is required")
	}
	if store == nil {
		return nil, errors.New("knowledge: retriever vector store is required")
	}
	return &Service{
		embedder:  emb,
		store:     store,
		generator: gen,
		tracer:    otel.Tracer("pagewise.knowledge.retriever"),
	}, nil
}

// RetrieveAndAnswer retrieves context for query and asks the generator to
// answer from it. Generation failures are returned as is, without retry.
func (s *Service) RetrieveAndAnswer(ctx context.Context, query string, opts Options) (*Answer, error) {
	if s.generator == nil {
		return nil, errors.New("knowledge: retriever generator is required")
	}
	answer, err := s.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	spanCtx, span := s.tracer.Start(ctx, "pagewise.knowledge.retriever.generate")
	defer span.End()
	text, err := s.generator.Generate(spanCtx, answer.Query, answer.Context)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.FromContext(ctx).Error("Answer generation failed", "file_id", answer.FileID, "error", err)
		return nil, err
	}
	answer.Answer = text
	return answer, nil
}

// Retrieve embeds query, searches the store and keeps, in store order, at
// most MaxContextMatches matches scoring at least opts.Threshold. When none
// survive it returns knowledge.ErrNoMatch.
func (s *Service) Retrieve(ctx context.Context, query string, opts Options) (answer *Answer, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, knowledge.Invalid("retrieve", "query is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "pagewise.knowledge.retriever.retrieve", trace.WithAttributes(
		attribute.Int("top_k", opts.TopK),
		attribute.Float64("threshold", opts.Threshold),
	))
	defer func() { s.finishRetrieve(ctx, span, start, answer, err) }()

	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.search(ctx, vector, opts)
	if err != nil {
		return nil, err
	}
	kept := filterMatches(matches, opts.Threshold)
	if len(kept) == 0 {
		knowledge.RecordRetrievalEmpty(ctx)
		return nil, knowledge.ErrNoMatch
	}
	return assemble(query, kept), nil
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "pagewise.knowledge.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.EmbedQuery(spanCtx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vector, nil
}

func (s *Service) search(ctx context.Context, vector []float32, opts Options) ([]vectordb.Match, error) {
	spanCtx, span := s.tracer.Start(ctx, "pagewise.knowledge.retriever.vector_search", trace.WithAttributes(
		attribute.Int("top_k", opts.TopK),
	))
	defer span.End()
	matches, err := s.store.Search(spanCtx, vector, vectordb.SearchOptions{
		TopK:      opts.TopK,
		MinScore:  opts.Threshold,
		Filters:   opts.Filters,
		Namespace: opts.Namespace,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

// filterMatches walks matches in the order the store ranked them. Completion
// markers never count as context.
func filterMatches(matches []vectordb.Match, threshold float64) []vectordb.Match {
	kept := make([]vectordb.Match, 0, MaxContextMatches)
	for i := range matches {
		if len(kept) == MaxContextMatches {
			break
		}
		if matches[i].Score < threshold || isMarker(&matches[i]) {
			continue
		}
		kept = append(kept, matches[i])
	}
	return kept
}

func isMarker(m *vectordb.Match) bool {
	marker, _ := m.Metadata["marker"].(bool)
	return marker
}

func assemble(query string, kept []vectordb.Match) *Answer {
	chunks := make([]string, len(kept))
	for i := range kept {
		chunks[i] = matchText(&kept[i])
	}
	fileID, _ := kept[0].Metadata["file_id"].(string)
	return &Answer{
		Query:         query,
		Context:       strings.Join(chunks, contextSeparator),
		ContextChunks: chunks,
		FileID:        fileID,
		Matches:       kept,
	}
}

func matchText(m *vectordb.Match) string {
	if text, ok := m.Metadata["text"].(string); ok {
		return text
	}
	return m.Text
}

func (s *Service) finishRetrieve(ctx context.Context, span trace.Span, start time.Time, answer *Answer, err error) {
	duration := time.Since(start)
	knowledge.RecordQueryLatency(ctx, duration)
	log := logger.FromContext(ctx)
	if err != nil {
		if errors.Is(err, knowledge.ErrNoMatch) {
			log.Info("No match above threshold", "duration", duration)
			span.SetAttributes(attribute.Int("results", 0))
			span.End()
			return
		}
		log.Error("Knowledge retrieval failed", "error", err, "duration", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	log.Info("Knowledge retrieval finished", "results", len(answer.Matches), "file_id", answer.FileID, "duration", duration)
	span.SetAttributes(attribute.Int("results", len(answer.Matches)), attribute.String("file_id", answer.FileID))
	span.End()
}
