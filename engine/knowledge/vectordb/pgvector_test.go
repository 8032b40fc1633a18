package vectordb

import (
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPGStore(t *testing.T, cfg *Config) (*pgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	mockPool.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	if cfg.EnsureIndex {
		mockPool.ExpectExec("CREATE INDEX IF NOT EXISTS (.+) USING hnsw").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	store, err := newPGStoreWithDB(t.Context(), mockPool, nil, cfg)
	require.NoError(t, err)
	return store, mockPool
}

func TestPGStore_Schema(t *testing.T) {
	t.Run("Should create the hnsw index when requested", func(t *testing.T) {
		_, mockPool := newMockPGStore(t, &Config{Dimension: 3, EnsureIndex: true})
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should surface extension failures", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		mockPool.ExpectExec("CREATE EXTENSION").WillReturnError(errors.New("permission denied"))
		_, err = newPGStoreWithDB(t.Context(), mockPool, nil, &Config{Dimension: 3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "enable extension")
	})
}

func TestPGStore_Upsert(t *testing.T) {
	t.Run("Should upsert records inside a transaction", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 3, Namespace: "docs"})
		mockPool.ExpectBegin()
		mockPool.ExpectExec(`INSERT INTO "pagewise_vectors"`).
			WithArgs("docs", "doc-1", pgxmock.AnyArg(), "hello", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		err := store.Upsert(t.Context(), []Record{{
			ID:        "doc-1",
			Text:      "hello",
			Embedding: []float32{0.1, 0.2, 0.3},
			Metadata:  map[string]any{"text": "hello", "file_id": "doc"},
		}})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should roll back when a row fails", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2})
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO").WillReturnError(errors.New("disk full"))
		mockPool.ExpectRollback()
		err := store.Upsert(t.Context(), []Record{{ID: "a", Embedding: []float32{1, 0}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should validate dimensions before opening a transaction", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2})
		err := store.Upsert(t.Context(), []Record{{ID: "a", Embedding: []float32{1, 0, 0}}})
		require.Error(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPGStore_Fetch(t *testing.T) {
	t.Run("Should return only the ids present", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2, Table: "vectors"})
		rows := mockPool.NewRows([]string{"id"}).AddRow("marker-doc")
		mockPool.ExpectQuery(`SELECT id FROM "vectors" WHERE namespace = \$1 AND id = ANY\(\$2\)`).
			WithArgs("", []string{"marker-doc"}).
			WillReturnRows(rows)
		found, err := store.Fetch(t.Context(), []string{"marker-doc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"marker-doc"}, found)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should skip the query for an empty id list", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2})
		found, err := store.Fetch(t.Context(), nil)
		require.NoError(t, err)
		assert.Empty(t, found)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPGStore_Search(t *testing.T) {
	t.Run("Should build a filtered cosine query and decode matches", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2})
		rows := mockPool.NewRows([]string{"id", "document", "metadata", "score"}).
			AddRow("doc-1", "", []byte(`{"text":"from metadata","file_id":"doc"}`), 0.91).
			AddRow("doc-2", "stored text", []byte(`{"file_id":"doc"}`), 0.8)
		mockPool.ExpectQuery(`SELECT id, COALESCE\(document, ''\), metadata, 1 - \(embedding <=> \$1\) AS score`).
			WithArgs(pgxmock.AnyArg(), "", "file_id", "doc", 0.5, 3).
			WillReturnRows(rows)
		matches, err := store.Search(t.Context(), []float32{1, 0}, SearchOptions{
			TopK:     3,
			MinScore: 0.5,
			Filters:  map[string]string{"file_id": "doc"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "from metadata", matches[0].Text)
		assert.Equal(t, "stored text", matches[1].Text)
		assert.Equal(t, "doc", matches[0].Metadata["file_id"])
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should use the inner product operator for dot metrics", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2, Metric: "dotproduct", MaxTopK: 2})
		mockPool.ExpectQuery(`ORDER BY embedding <#> \$1 ASC LIMIT \$3`).
			WithArgs(pgxmock.AnyArg(), "other", 2).
			WillReturnRows(mockPool.NewRows([]string{"id", "document", "metadata", "score"}))
		matches, err := store.Search(t.Context(), []float32{1, 0}, SearchOptions{TopK: 10, Namespace: "other"})
		require.NoError(t, err)
		assert.Empty(t, matches)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPGStore_Delete(t *testing.T) {
	t.Run("Should delete by ids within the namespace", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2, Namespace: "docs"})
		mockPool.ExpectExec(`DELETE FROM "pagewise_vectors" WHERE namespace = \$1 AND id = ANY\(\$2\)`).
			WithArgs("docs", []string{"a", "b"}).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		require.NoError(t, store.Delete(t.Context(), Filter{IDs: []string{"a", "b"}}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Should ignore empty filters", func(t *testing.T) {
		store, mockPool := newMockPGStore(t, &Config{Dimension: 2})
		require.NoError(t, store.Delete(t.Context(), Filter{}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
