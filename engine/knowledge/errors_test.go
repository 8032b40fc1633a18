package knowledge

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("Should match both the kind and the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(ErrStore, "upsert", cause)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStore)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "upsert: knowledge: vector store request failed: connection refused", err.Error())
	})

	t.Run("Should keep nil errors nil", func(t *testing.T) {
		assert.NoError(t, Wrap(ErrStore, "upsert", nil))
	})

	t.Run("Should build validation errors", func(t *testing.T) {
		err := Invalid("retrieve", "query is %s", "empty")
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "query is empty")
	})
}

func TestErrNoMatch(t *testing.T) {
	t.Run("Should be a not found condition", func(t *testing.T) {
		assert.ErrorIs(t, ErrNoMatch, ErrNotFound)
		assert.NotErrorIs(t, ErrNoMatch, ErrStore)
	})
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "validation", err: Invalid("op", "bad"), want: false},
		{name: "not found", err: ErrNoMatch, want: false},
		{name: "store", err: Wrap(ErrStore, "fetch", errors.New("timeout")), want: true},
		{name: "model load", err: Wrap(ErrModelLoad, "init", errors.New("oom")), want: true},
		{name: "embedding", err: Wrap(ErrEmbedding, "embed", errors.New("connection refused")), want: true},
		{name: "generation", err: Wrap(ErrGeneration, "generate", errors.New("503")), want: true},
		{name: "plain", err: errors.New("plain"), want: false},
	}
	for _, tc := range cases {
		t.Run("Should classify "+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestBatchFailures(t *testing.T) {
	t.Run("Should extract every joined batch failure", func(t *testing.T) {
		first := &BatchFailure{Batch: 1, Start: 100, End: 200, Err: errors.New("embed")}
		second := &BatchFailure{Batch: 3, Start: 300, End: 350, Err: errors.New("upsert")}
		joined := fmt.Errorf("ingest doc: %w", errors.Join(first, second))
		got := BatchFailures(joined)
		require.Len(t, got, 2)
		assert.Same(t, first, got[0])
		assert.Same(t, second, got[1])
		assert.ErrorIs(t, joined, ErrBatch)
		assert.True(t, IsRetryable(joined))
		assert.Equal(t, "knowledge: batch 1 (chunks 100-199): embed", first.Error())
	})

	t.Run("Should return nothing for unrelated errors", func(t *testing.T) {
		assert.Empty(t, BatchFailures(errors.New("x")))
		assert.Empty(t, BatchFailures(nil))
	})
}

func TestMetricsRecorders(t *testing.T) {
	t.Run("Should record against the global meter without panicking", func(t *testing.T) {
		ResetMetricsForTesting()
		ctx := t.Context()
		RecordIngestDuration(ctx, OutcomeMarked, time.Second)
		RecordIngestChunks(ctx, 3)
		RecordIngestChunks(ctx, 0)
		RecordBatchFailure(ctx, "embed")
		RecordMarkerSkip(ctx)
		RecordSinkFailure(ctx)
		RecordQueryLatency(ctx, 10*time.Millisecond)
		RecordRetrievalEmpty(ctx)
		require.NoError(t, ensureMetrics())
	})
}
