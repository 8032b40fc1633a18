package embedder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestTEIEncoder_Encode(t *testing.T) {
	t.Run("Should pad ragged token sequences and build masks", func(t *testing.T) {
		var got teiEmbedRequest
		srv := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/embed_all", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode([][][]float32{
				{{1, 1}, {3, 3}, {5, 5}},
				{{2, 0}},
			})
		})
		enc, err := NewTEIEncoder(srv.URL, "intfloat/e5-base-v2", "", 0)
		require.NoError(t, err)
		batch, err := enc.Encode(t.Context(), []string{"passage: a b", "passage: c"})
		require.NoError(t, err)
		assert.Equal(t, []string{"passage: a b", "passage: c"}, got.Inputs)
		assert.False(t, got.Truncate)
		assert.Equal(t, [][]int{{1, 1, 1}, {1, 0, 0}}, batch.Mask)
		require.Len(t, batch.Vectors[1], 3)
		assert.Equal(t, []float32{0, 0}, batch.Vectors[1][2])
		pooled, err := PoolBatch(batch.Vectors, batch.Mask)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{3, 3}, pooled[0], 1e-6)
		assert.InDeltaSlice(t, []float32{2, 0}, pooled[1], 1e-6)
	})

	t.Run("Should ask the server to reject overlong inputs instead of truncating", func(t *testing.T) {
		var raw map[string]any
		srv := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
			_ = json.NewEncoder(w).Encode([][][]float32{{{1}}})
		})
		enc, err := NewTEIEncoder(srv.URL, "m", "", 0)
		require.NoError(t, err)
		_, err = enc.Encode(t.Context(), []string{"x"})
		require.NoError(t, err)
		assert.Equal(t, false, raw["truncate"])
	})

	t.Run("Should send the bearer token when configured", func(t *testing.T) {
		srv := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer hf-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode([][][]float32{{{1}}})
		})
		enc, err := NewTEIEncoder(srv.URL+"/", "m", "hf-token", 0)
		require.NoError(t, err)
		_, err = enc.Encode(t.Context(), []string{"x"})
		require.NoError(t, err)
	})

	t.Run("Should return server errors with their message", func(t *testing.T) {
		srv := newTEIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			_, _ = w.Write([]byte(`{"error":"batch too large","error_type":"Validation"}`))
		})
		enc, err := NewTEIEncoder(srv.URL, "m", "", 0)
		require.NoError(t, err)
		_, err = enc.Encode(t.Context(), []string{"x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "413")
		assert.Contains(t, err.Error(), "batch too large")
	})

	t.Run("Should reject a sequence count mismatch", func(t *testing.T) {
		srv := newTEIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode([][][]float32{{{1}}})
		})
		enc, err := NewTEIEncoder(srv.URL, "m", "", 0)
		require.NoError(t, err)
		_, err = enc.Encode(t.Context(), []string{"x", "y"})
		require.Error(t, err)
	})
}

func TestTEIEncoder_Load(t *testing.T) {
	t.Run("Should succeed when the server is healthy", func(t *testing.T) {
		srv := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health":
				w.WriteHeader(http.StatusOK)
			case "/info":
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"model_id":"intfloat/e5-base-v2"}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		enc, err := NewTEIEncoder(srv.URL, "intfloat/e5-base-v2", "", 0)
		require.NoError(t, err)
		require.NoError(t, enc.Load(t.Context()))
	})

	t.Run("Should fail while the model is still loading", func(t *testing.T) {
		srv := newTEIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		enc, err := NewTEIEncoder(srv.URL, "m", "", 0)
		require.NoError(t, err)
		require.Error(t, enc.Load(t.Context()))
	})

	t.Run("Should require an endpoint", func(t *testing.T) {
		_, err := NewTEIEncoder(" ", "m", "", 0)
		require.Error(t, err)
	})
}
