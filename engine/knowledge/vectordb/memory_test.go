package vectordb

import (
	"context"
	"testing"

	"github.com/pagewise/pagewise/engine/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(&Config{Dimension: 4})

	t.Run("Should upsert and search by cosine", func(t *testing.T) {
		records := []Record{
			{ID: "a", Text: "alpha", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]any{"file_id": "one"}},
			{ID: "b", Text: "bravo", Embedding: []float32{0, 1, 0, 0}, Metadata: map[string]any{"file_id": "two"}},
		}
		require.NoError(t, store.Upsert(ctx, records))
		matches, err := store.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "a", matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
		assert.Equal(t, "alpha", matches[0].Text)
	})

	t.Run("Should return matches sorted by descending score", func(t *testing.T) {
		matches, err := store.Search(ctx, []float32{0.9, 0.1, 0, 0}, SearchOptions{TopK: 5})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a", matches[0].ID)
		assert.Greater(t, matches[0].Score, matches[1].Score)
	})

	t.Run("Should filter by metadata", func(t *testing.T) {
		matches, err := store.Search(
			ctx,
			[]float32{0, 1, 0, 0},
			SearchOptions{TopK: 2, Filters: map[string]string{"file_id": "two"}},
		)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "b", matches[0].ID)
	})

	t.Run("Should report which ids exist", func(t *testing.T) {
		found, err := store.Fetch(ctx, []string{"a", "missing", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, found)
	})

	t.Run("Should delete by id", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, Filter{IDs: []string{"a"}}))
		matches, err := store.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{TopK: 2, MinScore: 0.1})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Should delete by metadata", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, Filter{Metadata: map[string]string{"file_id": "two"}}))
		found, err := store.Fetch(ctx, []string{"b"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("Should reject records with the wrong dimension", func(t *testing.T) {
		mismatchStore := newMemoryStore(&Config{Dimension: 4})
		err := mismatchStore.Upsert(ctx, []Record{{ID: "bad", Embedding: []float32{1, 1, 1}}})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrValidation)
	})

	t.Run("Should reject queries with the wrong dimension", func(t *testing.T) {
		otherStore := newMemoryStore(&Config{Dimension: 2})
		require.NoError(t, otherStore.Upsert(ctx, []Record{{ID: "c", Embedding: []float32{1, 0}}}))
		_, err := otherStore.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.Error(t, err)
	})

	t.Run("Should respect top k when exceeding available records", func(t *testing.T) {
		limitedStore := newMemoryStore(&Config{Dimension: 2})
		records := []Record{
			{ID: "d", Text: "delta", Embedding: []float32{1, 0}},
			{ID: "e", Text: "echo", Embedding: []float32{0, 1}},
		}
		require.NoError(t, limitedStore.Upsert(ctx, records))
		matches, err := limitedStore.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 10})
		require.NoError(t, err)
		require.Len(t, matches, 2)
	})

	t.Run("Should isolate namespaces", func(t *testing.T) {
		scoped := newMemoryStore(&Config{Dimension: 2, Namespace: "tenant-a"})
		require.NoError(t, scoped.Upsert(ctx, []Record{{ID: "x", Embedding: []float32{1, 0}}}))
		matches, err := scoped.Search(ctx, []float32{1, 0}, SearchOptions{Namespace: "tenant-b"})
		require.NoError(t, err)
		assert.Empty(t, matches)
		matches, err = scoped.Search(ctx, []float32{1, 0}, SearchOptions{})
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("Should not share metadata maps with callers", func(t *testing.T) {
		isolated := newMemoryStore(&Config{Dimension: 2})
		meta := map[string]any{"file_id": "f"}
		require.NoError(t, isolated.Upsert(ctx, []Record{{ID: "m", Embedding: []float32{1, 0}, Metadata: meta}}))
		meta["file_id"] = "changed"
		matches, err := isolated.Search(ctx, []float32{1, 0}, SearchOptions{})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "f", matches[0].Metadata["file_id"])
	})
}

func TestCosineSimilarity(t *testing.T) {
	t.Run("Should return zero for zero vectors", func(t *testing.T) {
		assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	})

	t.Run("Should return zero for mismatched lengths", func(t *testing.T) {
		assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 0}))
	})

	t.Run("Should be negative for opposite vectors", func(t *testing.T) {
		assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	})
}
