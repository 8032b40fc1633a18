package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/pagewise/pagewise/engine/knowledge/audit"
	"github.com/pagewise/pagewise/engine/knowledge/chunk"
	"github.com/pagewise/pagewise/engine/knowledge/sink"
	"github.com/pagewise/pagewise/engine/knowledge/vectordb"
)

// numberTokenizer treats "t<n>" words as token n.
type numberTokenizer struct{}

func (numberTokenizer) Encode(text string) ([]int, error) {
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimPrefix(f, "t"))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func (numberTokenizer) Decode(tokens []int) (string, error) {
	words := make([]string, len(tokens))
	for i, tok := range tokens {
		words[i] = "t" + strconv.Itoa(tok)
	}
	return strings.Join(words, " "), nil
}

func tokens(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "t" + strconv.Itoa(i)
	}
	return strings.Join(words, " ")
}

type fakeEmbedder struct {
	dim   int
	calls atomic.Int32
	fail  func(texts []string) error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.fail != nil {
		if err := f.fail(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(len(text))
		vec[1] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeStore struct {
	mu         sync.Mutex
	records    map[string]vectordb.Record
	upserts    int
	fetches    int
	fetchErr   error
	deleteErr  error
	failUpsert func(records []vectordb.Record) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]vectordb.Record)}
}

func (s *fakeStore) Upsert(_ context.Context, records []vectordb.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpsert != nil {
		if err := s.failUpsert(records); err != nil {
			return err
		}
	}
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *fakeStore) Fetch(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []string
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) Search(context.Context, []float32, vectordb.SearchOptions) ([]vectordb.Match, error) {
	return nil, nil
}

func (s *fakeStore) Delete(_ context.Context, filter vectordb.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, id := range filter.IDs {
		delete(s.records, id)
	}
	if len(filter.Metadata) == 0 {
		return nil
	}
	for id, rec := range s.records {
		matched := true
		for k, v := range filter.Metadata {
			if fmt.Sprint(rec.Metadata[k]) != v {
				matched = false
			}
		}
		if matched {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *fakeStore) Close(context.Context) error { return nil }

func (s *fakeStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	return out
}

func (s *fakeStore) chunkRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.Metadata["marker"] != true {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu      sync.Mutex
	records []sink.Record
	failAt  int
}

func (r *recordingSink) Write(_ context.Context, rec sink.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.records)+1 == r.failAt {
		return errors.New("status 400")
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingSink) Close(context.Context) error { return nil }

type fakeClaimer struct {
	claimErr error
	claims   atomic.Int32
	releases atomic.Int32
}

func (c *fakeClaimer) Claim(context.Context, string) error {
	c.claims.Add(1)
	return c.claimErr
}

func (c *fakeClaimer) Release(context.Context, string) error {
	c.releases.Add(1)
	return nil
}

func newTestPipeline(t *testing.T, emb *fakeEmbedder, store *fakeStore, opts Options) *Pipeline {
	t.Helper()
	chunker, err := chunk.NewChunker(numberTokenizer{}, chunk.DefaultSettings())
	require.NoError(t, err)
	p, err := NewPipeline(chunker, emb, store, opts)
	require.NoError(t, err)
	return p
}

func TestPipeline_Ingest(t *testing.T) {
	t.Run("Should embed every chunk and write the marker last", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 4}
		store := newFakeStore()
		p := newTestPipeline(t, emb, store, Options{})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.NoError(t, err)
		assert.Equal(t, StateMarked, res.State)
		assert.Equal(t, 3, res.Chunks)
		assert.Equal(t, 1, res.Batches)
		assert.Equal(t, 3, store.chunkRecords())
		marker, ok := store.records["marker-doc"]
		require.True(t, ok)
		assert.Equal(t, []float32{1e-8, 1e-8, 1e-8, 1e-8}, marker.Embedding)
		assert.Equal(t, map[string]any{"file_id": "doc", "marker": true}, marker.Metadata)
		for id, rec := range store.records {
			if id == "marker-doc" {
				continue
			}
			assert.True(t, strings.HasPrefix(id, "doc-"))
			assert.Equal(t, "doc", rec.Metadata["file_id"])
			assert.Equal(t, rec.Text, rec.Metadata["text"])
			assert.Len(t, rec.Metadata, 2)
		}
	})

	t.Run("Should skip without embedding when the marker exists", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 4}
		store := newFakeStore()
		store.records["marker-doc"] = vectordb.Record{ID: "marker-doc"}
		p := newTestPipeline(t, emb, store, Options{})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.NoError(t, err)
		assert.Equal(t, StateSkipped, res.State)
		assert.Zero(t, emb.calls.Load())
		assert.Zero(t, store.upserts)
		assert.Equal(t, 1, store.fetches)
	})

	t.Run("Should treat marker lookup failures as absent", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 4}
		store := newFakeStore()
		store.fetchErr = errors.New("connection reset")
		p := newTestPipeline(t, emb, store, Options{})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(10)})
		require.NoError(t, err)
		assert.Equal(t, StateMarked, res.State)
		assert.Equal(t, int32(1), emb.calls.Load())
	})

	t.Run("Should upload surviving batches and leave no marker when one fails", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 4}
		store := newFakeStore()
		var failing atomic.Bool
		failing.Store(true)
		store.failUpsert = func(records []vectordb.Record) error {
			if failing.Load() && strings.HasPrefix(records[0].Text, "t462 ") {
				return errors.New("upstream 503")
			}
			return nil
		}
		p := newTestPipeline(t, emb, store, Options{BatchSize: 1, Workers: 3})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrBatch)
		assert.Equal(t, StateFailed, res.State)
		assert.Equal(t, 3, res.Batches)
		assert.Equal(t, 1, res.Failed)
		failures := knowledge.BatchFailures(err)
		require.Len(t, failures, 1)
		assert.Equal(t, 1, failures[0].Batch)
		assert.Equal(t, 1, failures[0].Start)
		assert.Equal(t, 2, store.chunkRecords())
		assert.NotContains(t, store.ids(), "marker-doc")
		firstIDs := store.ids()

		failing.Store(false)
		res, err = p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.NoError(t, err)
		assert.Equal(t, StateMarked, res.State)
		assert.Equal(t, int32(6), emb.calls.Load())
		assert.Equal(t, 5, store.chunkRecords())
		for _, id := range firstIDs {
			assert.Contains(t, store.ids(), id)
		}
	})

	t.Run("Should join every failed batch", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 4, fail: func(texts []string) error {
			if strings.HasPrefix(texts[0], "t0 ") {
				return nil
			}
			return fmt.Errorf("model busy")
		}}
		store := newFakeStore()
		p := newTestPipeline(t, emb, store, Options{BatchSize: 1})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.Error(t, err)
		assert.Equal(t, 2, res.Failed)
		assert.Len(t, knowledge.BatchFailures(err), 2)
		assert.Contains(t, err.Error(), "model busy")
		assert.True(t, knowledge.IsRetryable(err))
	})

	t.Run("Should fail without a marker when the marker write fails", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 4}
		store := newFakeStore()
		store.failUpsert = func(records []vectordb.Record) error {
			if records[0].ID == "marker-doc" {
				return knowledge.Wrap(knowledge.ErrStore, "upsert", errors.New("timeout"))
			}
			return nil
		}
		p := newTestPipeline(t, emb, store, Options{})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(20)})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrStore)
		assert.Equal(t, StateFailed, res.State)
		assert.Contains(t, err.Error(), "write marker")
	})

	t.Run("Should use chunk indexes with the deterministic strategy", func(t *testing.T) {
		store := newFakeStore()
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, store, Options{IDStrategy: IDDeterministic})
		_, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"doc-0", "doc-1", "doc-2", "marker-doc"}, store.ids())
	})

	t.Run("Should mark empty documents", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 2}
		store := newFakeStore()
		p := newTestPipeline(t, emb, store, Options{})
		res, err := p.Ingest(t.Context(), Document{FileID: "empty", Text: "   "})
		require.NoError(t, err)
		assert.Equal(t, StateMarked, res.State)
		assert.Zero(t, emb.calls.Load())
		assert.Equal(t, []string{"marker-empty"}, store.ids())
	})

	t.Run("Should reject a blank file id", func(t *testing.T) {
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, newFakeStore(), Options{})
		_, err := p.Ingest(t.Context(), Document{FileID: " ", Text: "t1"})
		assert.ErrorIs(t, err, knowledge.ErrValidation)
	})

	t.Run("Should honor custom marker settings", func(t *testing.T) {
		store := newFakeStore()
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, store, Options{MarkerPrefix: "done:", MarkerValue: 0.5, Dimension: 3})
		_, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(5)})
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5, 0.5}, store.records["done:doc"].Embedding)
	})
}

func TestPipeline_Claim(t *testing.T) {
	t.Run("Should stop before embedding when the file is claimed elsewhere", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 2}
		claimer := &fakeClaimer{claimErr: knowledge.Wrap(knowledge.ErrClaimed, "claim", errors.New("file doc"))}
		p := newTestPipeline(t, emb, newFakeStore(), Options{Claimer: claimer})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(5)})
		require.ErrorIs(t, err, knowledge.ErrClaimed)
		assert.Equal(t, StateFailed, res.State)
		assert.Zero(t, emb.calls.Load())
		assert.Zero(t, claimer.releases.Load())
	})

	t.Run("Should release the claim when ingestion fails", func(t *testing.T) {
		emb := &fakeEmbedder{dim: 2, fail: func([]string) error { return errors.New("boom") }}
		claimer := &fakeClaimer{}
		p := newTestPipeline(t, emb, newFakeStore(), Options{Claimer: claimer})
		_, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(5)})
		require.Error(t, err)
		assert.Equal(t, int32(1), claimer.claims.Load())
		assert.Equal(t, int32(1), claimer.releases.Load())
	})

	t.Run("Should not claim when the marker already exists", func(t *testing.T) {
		store := newFakeStore()
		store.records["marker-doc"] = vectordb.Record{ID: "marker-doc"}
		claimer := &fakeClaimer{}
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, store, Options{Claimer: claimer})
		_, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(5)})
		require.NoError(t, err)
		assert.Zero(t, claimer.claims.Load())
	})
}

func TestPipeline_Replace(t *testing.T) {
	t.Run("Should delete earlier records and re-ingest a marked document", func(t *testing.T) {
		store := newFakeStore()
		first := newTestPipeline(t, &fakeEmbedder{dim: 2}, store, Options{})
		_, err := first.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.NoError(t, err)
		require.Equal(t, 3, store.chunkRecords())

		emb := &fakeEmbedder{dim: 2}
		replace := newTestPipeline(t, emb, store, Options{Replace: true})
		res, err := replace.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(600)})
		require.NoError(t, err)
		assert.Equal(t, StateMarked, res.State)
		assert.True(t, res.Replaced)
		assert.Positive(t, emb.calls.Load())
		assert.Equal(t, 2, store.chunkRecords())
		assert.Contains(t, store.ids(), "marker-doc")
	})

	t.Run("Should keep records of other files", func(t *testing.T) {
		store := newFakeStore()
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, store, Options{})
		_, err := p.Ingest(t.Context(), Document{FileID: "other", Text: tokens(5)})
		require.NoError(t, err)
		replace := newTestPipeline(t, &fakeEmbedder{dim: 2}, store, Options{Replace: true})
		_, err = replace.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(5)})
		require.NoError(t, err)
		assert.Contains(t, store.ids(), "marker-other")
		assert.Equal(t, 2, store.chunkRecords())
	})

	t.Run("Should fail without uploading when the delete fails", func(t *testing.T) {
		store := newFakeStore()
		store.deleteErr = errors.New("connection reset")
		emb := &fakeEmbedder{dim: 2}
		claimer := &fakeClaimer{}
		p := newTestPipeline(t, emb, store, Options{Replace: true, Claimer: claimer})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(5)})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrStore)
		assert.True(t, knowledge.IsRetryable(err))
		assert.Equal(t, StateFailed, res.State)
		assert.Zero(t, emb.calls.Load())
		assert.Equal(t, int32(1), claimer.releases.Load())
	})
}

func TestPipeline_Sink(t *testing.T) {
	t.Run("Should report each chunk after marking", func(t *testing.T) {
		rec := &recordingSink{}
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, newFakeStore(), Options{Sink: rec, Model: "e5"})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Reported)
		require.Len(t, rec.records, 3)
		for i, r := range rec.records {
			assert.Equal(t, i, r.ChunkNumber)
			assert.Equal(t, "doc", r.FileHash)
			assert.Equal(t, "e5", r.ModelUsed)
			assert.Nil(t, r.VectorID)
		}
	})

	t.Run("Should report chunks for skipped documents", func(t *testing.T) {
		store := newFakeStore()
		store.records["marker-doc"] = vectordb.Record{ID: "marker-doc"}
		rec := &recordingSink{}
		emb := &fakeEmbedder{dim: 2}
		p := newTestPipeline(t, emb, store, Options{Sink: rec})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(600)})
		require.NoError(t, err)
		assert.Equal(t, StateSkipped, res.State)
		assert.Len(t, rec.records, 2)
		assert.Zero(t, emb.calls.Load())
	})

	t.Run("Should audit a sink rejection while keeping the marker", func(t *testing.T) {
		store := newFakeStore()
		rec := &recordingSink{failAt: 2}
		log := audit.NewMemoryLog()
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, store, Options{Sink: rec, Audit: log})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrSink)
		assert.Equal(t, StateMarked, res.State)
		assert.Equal(t, 1, res.Reported)
		assert.Contains(t, store.ids(), "marker-doc")
		entries, err := log.List(t.Context(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "doc", entries[0].FileID)
		assert.Equal(t, 3, entries[0].Chunks)
		assert.Equal(t, 1, entries[0].Delivered)
		require.NotNil(t, res.Gap)
		assert.Equal(t, entries[0].ID, res.Gap.ID)
	})

	t.Run("Should return the gap even without an audit log", func(t *testing.T) {
		rec := &recordingSink{failAt: 1}
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, newFakeStore(), Options{Sink: rec})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(1200)})
		require.ErrorIs(t, err, knowledge.ErrSink)
		require.NotNil(t, res.Gap)
		assert.Equal(t, "doc", res.Gap.FileID)
		assert.Equal(t, 3, res.Gap.Chunks)
		assert.Zero(t, res.Gap.Delivered)
	})

	t.Run("Should leave the gap empty when every chunk is reported", func(t *testing.T) {
		p := newTestPipeline(t, &fakeEmbedder{dim: 2}, newFakeStore(), Options{Sink: &recordingSink{}})
		res, err := p.Ingest(t.Context(), Document{FileID: "doc", Text: tokens(600)})
		require.NoError(t, err)
		assert.Nil(t, res.Gap)
	})
}

func TestNewPipeline(t *testing.T) {
	chunker, err := chunk.NewChunker(numberTokenizer{}, chunk.DefaultSettings())
	require.NoError(t, err)

	t.Run("Should require collaborators", func(t *testing.T) {
		_, err := NewPipeline(nil, &fakeEmbedder{dim: 2}, newFakeStore(), Options{})
		assert.Error(t, err)
		_, err = NewPipeline(chunker, nil, newFakeStore(), Options{})
		assert.Error(t, err)
		_, err = NewPipeline(chunker, &fakeEmbedder{dim: 2}, nil, Options{})
		assert.Error(t, err)
	})

	t.Run("Should reject unknown id strategies", func(t *testing.T) {
		_, err := NewPipeline(chunker, &fakeEmbedder{dim: 2}, newFakeStore(), Options{IDStrategy: "sequential"})
		assert.Error(t, err)
	})

	t.Run("Should apply defaults", func(t *testing.T) {
		p, err := NewPipeline(chunker, &fakeEmbedder{dim: 768}, newFakeStore(), Options{})
		require.NoError(t, err)
		assert.Equal(t, DefaultBatchSize, p.options.BatchSize)
		assert.Equal(t, DefaultWorkers(), p.options.Workers)
		assert.LessOrEqual(t, p.options.Workers, 32)
		assert.Equal(t, 768, p.options.Dimension)
		assert.Equal(t, "marker-x", p.MarkerID("x"))
	})
}

func TestSplitBatches(t *testing.T) {
	t.Run("Should split into ranges of at most size", func(t *testing.T) {
		chunks := make([]chunk.Chunk, 250)
		batches := splitBatches(chunks, 100)
		require.Len(t, batches, 3)
		assert.Equal(t, 200, batches[2].start)
		assert.Len(t, batches[2].chunks, 50)
		assert.Equal(t, 2, batches[2].number)
	})

	t.Run("Should return nothing for no chunks", func(t *testing.T) {
		assert.Empty(t, splitBatches(nil, 100))
	})
}
