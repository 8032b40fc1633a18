package vectordb

import (
	"context"
	"errors"
	"sync"
	"time"

	monitoringmetrics "github.com/pagewise/pagewise/engine/infra/monitoring/metrics"
	"github.com/pagewise/pagewise/engine/knowledge"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	vectorMetricsOnce    sync.Once
	vectorMetricsErr     error
	vectorOpLatency      metric.Float64Histogram
	vectorResultsCount   metric.Float64Histogram
	vectorTopScore       metric.Float64Histogram
	vectorErrorsTotal    metric.Int64Counter
	vectorRecordsWritten metric.Int64Counter
)

func ensureVectorMetrics() error {
	vectorMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("pagewise.knowledge.vector")
		if err := initVectorHistograms(meter); err != nil {
			vectorMetricsErr = err
			return
		}
		vectorMetricsErr = initVectorCounters(meter)
	})
	return vectorMetricsErr
}

func initVectorHistograms(meter metric.Meter) error {
	var err error
	vectorOpLatency, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "operation_seconds"),
		metric.WithDescription("Vector store operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.QueryDurationBuckets...),
	)
	if err != nil {
		return err
	}
	vectorResultsCount, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_results_per_search"),
		metric.WithDescription("Number of results returned per search"),
		metric.WithExplicitBucketBoundaries(1, 3, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return err
	}
	vectorTopScore, err = meter.Float64Histogram(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "similarity_top_score"),
		metric.WithDescription("Score of the best match per search"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1.0),
	)
	return err
}

func initVectorCounters(meter metric.Meter) error {
	var err error
	vectorErrorsTotal, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "store_errors_total"),
		metric.WithDescription("Vector store operation errors"),
	)
	if err != nil {
		return err
	}
	vectorRecordsWritten, err = meter.Int64Counter(
		monitoringmetrics.MetricNameWithSubsystem("vectordb", "records_written_total"),
		metric.WithDescription("Records upserted into the vector store"),
	)
	return err
}

func recordVectorOp(ctx context.Context, provider Provider, operation string, d time.Duration, err error) {
	if mErr := ensureVectorMetrics(); mErr != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("operation", operation),
	)
	vectorOpLatency.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		vectorErrorsTotal.Add(ctx, 1, attrs)
	}
}

func recordVectorSearch(ctx context.Context, provider Provider, matches []Match) {
	if err := ensureVectorMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider", string(provider)))
	vectorResultsCount.Record(ctx, float64(len(matches)), attrs)
	if len(matches) > 0 {
		vectorTopScore.Record(ctx, matches[0].Score, attrs)
	}
}

func recordVectorWrites(ctx context.Context, provider Provider, n int) {
	if err := ensureVectorMetrics(); err != nil || n <= 0 {
		return
	}
	vectorRecordsWritten.Add(ctx, int64(n), metric.WithAttributes(attribute.String("provider", string(provider))))
}

// instrumentedStore records latency and error metrics and classifies every
// backend failure as knowledge.ErrStore.
type instrumentedStore struct {
	provider Provider
	inner    Store
}

func instrument(provider Provider, store Store) Store {
	return &instrumentedStore{provider: provider, inner: store}
}

func (s *instrumentedStore) Upsert(ctx context.Context, records []Record) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, records)
	recordVectorOp(ctx, s.provider, "upsert", time.Since(start), err)
	if err == nil {
		recordVectorWrites(ctx, s.provider, len(records))
	}
	return s.classify("upsert", err)
}

func (s *instrumentedStore) Fetch(ctx context.Context, ids []string) ([]string, error) {
	start := time.Now()
	found, err := s.inner.Fetch(ctx, ids)
	recordVectorOp(ctx, s.provider, "fetch", time.Since(start), err)
	if err != nil {
		return nil, s.classify("fetch", err)
	}
	return found, nil
}

func (s *instrumentedStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	start := time.Now()
	matches, err := s.inner.Search(ctx, query, opts)
	recordVectorOp(ctx, s.provider, "search", time.Since(start), err)
	if err != nil {
		return nil, s.classify("search", err)
	}
	recordVectorSearch(ctx, s.provider, matches)
	return matches, nil
}

func (s *instrumentedStore) Delete(ctx context.Context, filter Filter) error {
	start := time.Now()
	err := s.inner.Delete(ctx, filter)
	recordVectorOp(ctx, s.provider, "delete", time.Since(start), err)
	return s.classify("delete", err)
}

func (s *instrumentedStore) Close(ctx context.Context) error {
	return s.classify("close", s.inner.Close(ctx))
}

func (s *instrumentedStore) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, knowledge.ErrValidation) || errors.Is(err, knowledge.ErrStore) {
		return err
	}
	return knowledge.Wrap(knowledge.ErrStore, string(s.provider)+"."+operation, err)
}
