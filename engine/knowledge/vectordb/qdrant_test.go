package vectordb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recorder) record(req *http.Request) recordedRequest {
	entry := recordedRequest{
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Header: req.Header.Clone(),
	}
	_ = json.NewDecoder(req.Body).Decode(&entry.Body)
	r.mu.Lock()
	r.requests = append(r.requests, entry)
	r.mu.Unlock()
	return entry
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func TestQdrantStore(t *testing.T) {
	t.Run("Should create a missing collection when ensure index is set", func(t *testing.T) {
		rec := &recorder{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := rec.record(r)
			if entry.Method == http.MethodGet {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
		}))
		defer srv.Close()
		_, err := newQdrantStore(t.Context(), &Config{
			Endpoint:    srv.URL,
			Index:       "chunks",
			Dimension:   3,
			EnsureIndex: true,
			APIKey:      "secret",
		})
		require.NoError(t, err)
		reqs := rec.all()
		require.Len(t, reqs, 2)
		assert.Equal(t, http.MethodPut, reqs[1].Method)
		assert.Equal(t, "/collections/chunks", reqs[1].Path)
		vectors := reqs[1].Body["vectors"].(map[string]any)
		assert.Equal(t, float64(3), vectors["size"])
		assert.Equal(t, "Cosine", vectors["distance"])
		assert.Equal(t, "secret", reqs[1].Header.Get("api-key"))
	})

	t.Run("Should map record ids to stable point ids and keep the original id", func(t *testing.T) {
		rec := &recorder{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec.record(r)
			_, _ = w.Write([]byte(`{"result":{"status":"completed"},"status":"ok"}`))
		}))
		defer srv.Close()
		store, err := newQdrantStore(t.Context(), &Config{Endpoint: srv.URL, Index: "chunks", Dimension: 2, Namespace: "docs"})
		require.NoError(t, err)
		err = store.Upsert(t.Context(), []Record{{
			ID:        "doc-0",
			Text:      "hello",
			Embedding: []float32{1, 0},
			Metadata:  map[string]any{"file_id": "doc"},
		}})
		require.NoError(t, err)
		reqs := rec.all()
		require.Len(t, reqs, 1)
		assert.Equal(t, "/collections/chunks/points", reqs[0].Path)
		assert.Equal(t, "wait=true", reqs[0].Query)
		point := reqs[0].Body["points"].([]any)[0].(map[string]any)
		assert.Equal(t, qdrantPointID("doc-0"), point["id"])
		payload := point["payload"].(map[string]any)
		assert.Equal(t, "doc-0", payload[qdrantIDKey])
		assert.Equal(t, "docs", payload[qdrantNamespaceKey])
		assert.Equal(t, "hello", payload["text"])
	})

	t.Run("Should fetch existing ids within the namespace", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"result":[
				{"id":"x","payload":{"_id":"marker-doc","_namespace":"docs"}},
				{"id":"y","payload":{"_id":"marker-other","_namespace":"elsewhere"}}
			],"status":"ok"}`))
		}))
		defer srv.Close()
		store, err := newQdrantStore(t.Context(), &Config{Endpoint: srv.URL, Index: "chunks", Dimension: 2, Namespace: "docs"})
		require.NoError(t, err)
		found, err := store.Fetch(t.Context(), []string{"marker-doc", "marker-other"})
		require.NoError(t, err)
		assert.Equal(t, []string{"marker-doc"}, found)
	})

	t.Run("Should search with namespace and metadata filters", func(t *testing.T) {
		rec := &recorder{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec.record(r)
			_, _ = w.Write([]byte(`{"result":[
				{"id":"p1","score":0.92,"payload":{"_id":"doc-1","_namespace":"docs","text":"one","file_id":"doc"}},
				{"id":"p2","score":0.40,"payload":{"_id":"doc-2","_namespace":"docs","text":"two","file_id":"doc"}}
			],"status":"ok"}`))
		}))
		defer srv.Close()
		store, err := newQdrantStore(t.Context(), &Config{Endpoint: srv.URL, Index: "chunks", Dimension: 2, Namespace: "docs"})
		require.NoError(t, err)
		matches, err := store.Search(t.Context(), []float32{1, 0}, SearchOptions{
			TopK:     4,
			MinScore: 0.5,
			Filters:  map[string]string{"file_id": "doc"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "doc-1", matches[0].ID)
		assert.Equal(t, "one", matches[0].Text)
		assert.NotContains(t, matches[0].Metadata, qdrantIDKey)
		body := rec.all()[0].Body
		assert.Equal(t, float64(4), body["limit"])
		must := body["filter"].(map[string]any)["must"].([]any)
		require.Len(t, must, 2)
		assert.Equal(t, qdrantNamespaceKey, must[0].(map[string]any)["key"])
	})

	t.Run("Should surface api errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":{"error":"Wrong input: vector dimension error"}}`))
		}))
		defer srv.Close()
		store, err := newQdrantStore(t.Context(), &Config{Endpoint: srv.URL, Index: "chunks", Dimension: 2})
		require.NoError(t, err)
		_, err = store.Search(t.Context(), []float32{1, 0}, SearchOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vector dimension error")
	})
}

func TestQdrantPointID(t *testing.T) {
	t.Run("Should be deterministic and distinct", func(t *testing.T) {
		assert.Equal(t, qdrantPointID("doc-1"), qdrantPointID("doc-1"))
		assert.NotEqual(t, qdrantPointID("doc-1"), qdrantPointID("doc-2"))
	})
}
